package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
)

const schema = `
CREATE TABLE IF NOT EXISTS saved_tests (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    name       TEXT    NOT NULL,
    kind       TEXT    NOT NULL CHECK(kind IN ('api', 'ui')),
    config     TEXT    NOT NULL,
    created_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id     TEXT    NOT NULL,
    passed      INTEGER NOT NULL CHECK(passed IN (0, 1)),
    summary     TEXT    NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL,
    ran_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_test ON runs(test_id);
`

// Kind distinguishes API tests from webpage (UI) tests.
type Kind string

const (
	KindAPI Kind = "api"
	KindUI  Kind = "ui"
)

// SavedTest is an immutable snapshot of a request the user chose to keep.
// Exactly one of API and UI is set, matching Kind.
type SavedTest struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Kind      Kind               `json:"kind"`
	API       *prober.Request    `json:"api,omitempty"`
	UI        *pagecheck.Request `json:"ui,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Run is one recorded execution of a saved test.
type Run struct {
	ID         int64     `json:"id"`
	TestID     string    `json:"test_id"`
	Passed     bool      `json:"passed"`
	Summary    string    `json:"summary"`
	DurationMs int64     `json:"duration_ms"`
	RanAt      time.Time `json:"ran_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// ":memory:" gives a database that lives as long as the process.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertTest persists t, assigning an ID and creation time when unset.
func (d *DB) InsertTest(ctx context.Context, t *SavedTest) error {
	cfg, err := encodeConfig(t)
	if err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO saved_tests (id, name, kind, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		string(t.Kind),
		cfg,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting test %q: %w", t.Name, err)
	}
	return nil
}

// GetTest returns the saved test with the given ID, or nil if none.
func (d *DB) GetTest(ctx context.Context, id string) (*SavedTest, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, kind, config, created_at FROM saved_tests WHERE id = ?`, id,
	)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying test %q: %w", id, err)
	}
	return t, nil
}

// ListTests returns all saved tests in the order they were saved.
func (d *DB) ListTests(ctx context.Context) ([]SavedTest, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, kind, config, created_at FROM saved_tests ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tests: %w", err)
	}
	defer rows.Close()

	var tests []SavedTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning test row: %w", err)
		}
		tests = append(tests, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating test rows: %w", err)
	}
	return tests, nil
}

// CountTests returns the number of saved tests.
func (d *DB) CountTests(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM saved_tests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tests: %w", err)
	}
	return n, nil
}

// DeleteAll removes every saved test and its run history.
func (d *DB) DeleteAll(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM runs`, `DELETE FROM saved_tests`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting tests: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	return nil
}

// InsertRun records one execution of a saved test.
func (d *DB) InsertRun(ctx context.Context, r Run) error {
	passed := 0
	if r.Passed {
		passed = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (test_id, passed, summary, duration_ms, ran_at) VALUES (?, ?, ?, ?, ?)`,
		r.TestID,
		passed,
		r.Summary,
		r.DurationMs,
		r.RanAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run for %q: %w", r.TestID, err)
	}
	return nil
}

// LatestRun returns the most recent run of a test, or nil if it never ran.
func (d *DB) LatestRun(ctx context.Context, testID string) (*Run, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, test_id, passed, summary, duration_ms, ran_at FROM runs WHERE test_id = ? ORDER BY id DESC LIMIT 1`,
		testID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run for %q: %w", testID, err)
	}
	return r, nil
}

// RunHistory returns paginated runs of a test, most recently recorded first,
// plus the total count.
func (d *DB) RunHistory(ctx context.Context, testID string, limit, offset int) ([]Run, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE test_id = ?`, testID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting runs for %q: %w", testID, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, test_id, passed, summary, duration_ms, ran_at FROM runs WHERE test_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		testID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", testID, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating run rows: %w", err)
	}
	return runs, total, nil
}

// PassRate returns the percentage of passing runs among the last N runs of a test.
func (d *DB) PassRate(ctx context.Context, testID string, last int) (float64, error) {
	var total int
	var passed sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(passed)
		FROM (
			SELECT passed FROM runs WHERE test_id = ? ORDER BY id DESC LIMIT ?
		)
	`, testID, last).Scan(&total, &passed)
	if err != nil {
		return 0, fmt.Errorf("calculating pass rate for %q: %w", testID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(passed.Int64) / float64(total) * 100, nil
}

func encodeConfig(t *SavedTest) (string, error) {
	var v any
	switch t.Kind {
	case KindAPI:
		if t.API == nil {
			return "", fmt.Errorf("test %q: missing api request", t.Name)
		}
		v = t.API
	case KindUI:
		if t.UI == nil {
			return "", fmt.Errorf("test %q: missing page check request", t.Name)
		}
		v = t.UI
	default:
		return "", fmt.Errorf("test %q: unknown kind %q", t.Name, t.Kind)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding test %q: %w", t.Name, err)
	}
	return string(b), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTest(row scanner) (*SavedTest, error) {
	var t SavedTest
	var kind, cfg, createdAt string
	if err := row.Scan(&t.ID, &t.Name, &kind, &cfg, &createdAt); err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)

	var err error
	switch t.Kind {
	case KindAPI:
		t.API = new(prober.Request)
		err = json.Unmarshal([]byte(cfg), t.API)
	case KindUI:
		t.UI = new(pagecheck.Request)
		err = json.Unmarshal([]byte(cfg), t.UI)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding test %q: %w", t.ID, err)
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var passed int
	var ranAt string
	if err := row.Scan(&r.ID, &r.TestID, &passed, &r.Summary, &r.DurationMs, &ranAt); err != nil {
		return nil, err
	}
	r.Passed = passed == 1

	var err error
	if r.RanAt, err = parseTime(ranAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
