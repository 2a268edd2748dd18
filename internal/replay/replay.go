// Package replay re-runs saved tests, on demand or on a fixed interval, and
// records every run.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/storage"
)

// ErrNotFound is returned by RunTest for an unknown test ID.
var ErrNotFound = errors.New("saved test not found")

// Store defines the storage operations required by the replayer.
type Store interface {
	GetTest(ctx context.Context, id string) (*storage.SavedTest, error)
	ListTests(ctx context.Context) ([]storage.SavedTest, error)
	InsertRun(ctx context.Context, r storage.Run) error
	LatestRun(ctx context.Context, testID string) (*storage.Run, error)
}

// Prober sends API requests.
type Prober interface {
	Probe(ctx context.Context, req prober.Request) (*prober.Result, error)
}

// Outcome is the result of replaying one saved test. API fields are set for
// API tests, Page for UI tests.
type Outcome struct {
	Test     storage.SavedTest    `json:"test"`
	Run      storage.Run          `json:"run"`
	API      *prober.Result       `json:"api,omitempty"`
	APIError string               `json:"api_error,omitempty"`
	Page     *pagecheck.ResultSet `json:"page,omitempty"`
}

// Replayer runs saved tests through the prober and the page check runner.
type Replayer struct {
	store    Store
	prober   Prober
	runner   pagecheck.Runner
	onResult func(Outcome, *bool)
	now      func() time.Time
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New creates a Replayer. Pass nil logger to discard logs.
func New(store Store, p Prober, runner pagecheck.Runner, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		store:  store,
		prober: p,
		runner: runner,
		now:    time.Now,
		logger: logger,
	}
}

// SetOnResult sets the callback invoked after each run.
// prevPassed is the previous run's verdict (nil on the first run).
func (r *Replayer) SetOnResult(fn func(o Outcome, prevPassed *bool)) {
	r.onResult = fn
}

// RunTest replays the saved test with the given ID once.
func (r *Replayer) RunTest(ctx context.Context, id string) (*Outcome, error) {
	t, err := r.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	o := r.run(ctx, *t)
	return &o, nil
}

// Start replays every saved test each interval, in save order. It is
// non-blocking; the first round starts after one interval.
func (r *Replayer) Start(ctx context.Context, interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunAll(ctx)
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (r *Replayer) Wait() {
	r.wg.Wait()
}

// RunAll replays every saved test sequentially and returns the outcomes.
func (r *Replayer) RunAll(ctx context.Context) []Outcome {
	tests, err := r.store.ListTests(ctx)
	if err != nil {
		r.logger.Error("listing saved tests", zap.Error(err))
		return nil
	}
	outcomes := make([]Outcome, 0, len(tests))
	for _, t := range tests {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, r.run(ctx, t))
	}
	return outcomes
}

func (r *Replayer) run(ctx context.Context, t storage.SavedTest) Outcome {
	prev, err := r.store.LatestRun(ctx, t.ID)
	if err != nil {
		r.logger.Warn("fetching previous run", zap.String("test", t.Name), zap.Error(err))
	}

	o := Outcome{Test: t}
	start := r.now()
	switch t.Kind {
	case storage.KindAPI:
		res, err := r.prober.Probe(ctx, *t.API)
		if err != nil {
			o.APIError = prober.Message(err)
			o.Run.Summary = o.APIError
		} else {
			o.API = res
			o.Run.Passed = res.Passed()
			o.Run.Summary = fmt.Sprintf("status %d in %.2fs", res.StatusCode, res.ElapsedSeconds)
		}
	case storage.KindUI:
		rs := r.runner.Run(ctx, *t.UI)
		o.Page = &rs
		o.Run.Passed = rs.Passed()
		o.Run.Summary = rs.Summary()
	}
	end := r.now()

	o.Run.TestID = t.ID
	o.Run.DurationMs = end.Sub(start).Milliseconds()
	o.Run.RanAt = end.UTC()

	r.logger.Info("test run",
		zap.String("test", t.Name),
		zap.String("kind", string(t.Kind)),
		zap.Bool("passed", o.Run.Passed),
		zap.String("summary", o.Run.Summary),
	)

	if err := r.store.InsertRun(ctx, o.Run); err != nil {
		r.logger.Error("storing run", zap.String("test", t.Name), zap.Error(err))
	}

	if r.onResult != nil {
		var prevPassed *bool
		if prev != nil {
			p := prev.Passed
			prevPassed = &p
		}
		r.onResult(o, prevPassed)
	}
	return o
}
