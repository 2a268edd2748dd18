package replay_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itswale/api-utils/internal/apperr"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/replay"
	"github.com/itswale/api-utils/internal/storage"
)

// mockStore keeps tests and runs in memory.
type mockStore struct {
	mu    sync.Mutex
	tests []storage.SavedTest
	runs  []storage.Run
	err   error
}

func (m *mockStore) GetTest(_ context.Context, id string) (*storage.SavedTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tests {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListTests(context.Context) ([]storage.SavedTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.SavedTest(nil), m.tests...), nil
}

func (m *mockStore) InsertRun(_ context.Context, r storage.Run) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) LatestRun(_ context.Context, testID string) (*storage.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TestID == testID {
			r := m.runs[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *mockStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

type mockProber struct {
	res *prober.Result
	err error
}

func (m *mockProber) Probe(context.Context, prober.Request) (*prober.Result, error) {
	return m.res, m.err
}

type mockRunner struct {
	mu sync.Mutex
	rs pagecheck.ResultSet
}

func (m *mockRunner) Run(context.Context, pagecheck.Request) pagecheck.ResultSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rs
}

func (m *mockRunner) set(rs pagecheck.ResultSet) {
	m.mu.Lock()
	m.rs = rs
	m.mu.Unlock()
}

func savedTests() []storage.SavedTest {
	return []storage.SavedTest{
		{ID: "a", Name: "Test 1 API", Kind: storage.KindAPI, API: &prober.Request{Method: "GET", URL: "https://api.example.com"}},
		{ID: "u", Name: "Test 2 UI", Kind: storage.KindUI, UI: &pagecheck.Request{URL: "https://example.com", Checks: []pagecheck.Kind{pagecheck.KindHeader}}},
	}
}

func passingPage() pagecheck.ResultSet {
	return pagecheck.ResultSet{Outcomes: map[pagecheck.Kind]pagecheck.Outcome{
		pagecheck.KindHeader: {Kind: pagecheck.KindHeader, Severity: pagecheck.SeveritySuccess, Detail: "Header found"},
	}}
}

func TestRunTest_API(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	p := &mockProber{res: &prober.Result{StatusCode: 200, ElapsedSeconds: 0.25, Data: prober.NoJSONResponse}}
	r := replay.New(store, p, &mockRunner{}, nil)

	o, err := r.RunTest(context.Background(), "a")
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if !o.Run.Passed {
		t.Error("expected 200 to pass")
	}
	if o.Run.Summary != "status 200 in 0.25s" {
		t.Errorf("unexpected summary %q", o.Run.Summary)
	}
	if store.runCount() != 1 {
		t.Errorf("expected 1 stored run, got %d", store.runCount())
	}
}

func TestRunTest_APIErrorFails(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	p := &mockProber{err: apperr.New(apperr.Unreachable, "sending request", errors.New("refused"))}
	r := replay.New(store, p, &mockRunner{}, nil)

	o, err := r.RunTest(context.Background(), "a")
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if o.Run.Passed {
		t.Error("expected failed run")
	}
	if o.APIError == "" || o.API != nil {
		t.Errorf("expected only the error message, got %+v", o)
	}
}

func TestRunTest_UIPassRule(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	runner := &mockRunner{rs: passingPage()}
	r := replay.New(store, &mockProber{}, runner, nil)

	o, err := r.RunTest(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Run.Passed {
		t.Errorf("expected pass, got %+v", o.Run)
	}

	runner.set(pagecheck.ResultSet{Outcomes: map[pagecheck.Kind]pagecheck.Outcome{
		pagecheck.KindHeader: {Kind: pagecheck.KindHeader, Severity: pagecheck.SeverityError, Detail: "No header found"},
	}})
	o, _ = r.RunTest(context.Background(), "u")
	if o.Run.Passed {
		t.Error("expected an error outcome to fail the run")
	}
	if o.Run.Summary != "0 passed, 0 warnings, 1 errors" {
		t.Errorf("unexpected summary %q", o.Run.Summary)
	}
}

func TestRunTest_NotFound(t *testing.T) {
	r := replay.New(&mockStore{}, &mockProber{}, &mockRunner{}, nil)
	_, err := r.RunTest(context.Background(), "missing")
	if !errors.Is(err, replay.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOnResult_ReceivesPreviousVerdict(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	runner := &mockRunner{rs: passingPage()}
	r := replay.New(store, &mockProber{}, runner, nil)

	var prevs []*bool
	r.SetOnResult(func(o replay.Outcome, prev *bool) {
		prevs = append(prevs, prev)
	})

	r.RunTest(context.Background(), "u")
	runner.set(pagecheck.ResultSet{NavigationError: "down", Fault: apperr.Unreachable})
	r.RunTest(context.Background(), "u")

	if len(prevs) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(prevs))
	}
	if prevs[0] != nil {
		t.Error("expected nil previous verdict on first run")
	}
	if prevs[1] == nil || !*prevs[1] {
		t.Error("expected previous verdict to be passed")
	}
}

func TestRunAll_Sequential(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	p := &mockProber{res: &prober.Result{StatusCode: 500}}
	r := replay.New(store, p, &mockRunner{rs: passingPage()}, nil)

	outcomes := r.RunAll(context.Background())
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Test.ID != "a" || outcomes[1].Test.ID != "u" {
		t.Error("expected outcomes in save order")
	}
	if outcomes[0].Run.Passed {
		t.Error("expected status 500 to fail")
	}
}

func TestStart_RunsPeriodically(t *testing.T) {
	store := &mockStore{tests: savedTests()}
	p := &mockProber{res: &prober.Result{StatusCode: 200}}
	r := replay.New(store, p, &mockRunner{rs: passingPage()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	r.Start(ctx, 50*time.Millisecond)
	<-ctx.Done()
	r.Wait()

	// At least two rounds of two tests each in 300ms with a 50ms interval.
	if n := store.runCount(); n < 4 {
		t.Errorf("expected at least 4 runs, got %d", n)
	}
}

func TestStart_ContextCancellation(t *testing.T) {
	r := replay.New(&mockStore{}, &mockProber{}, &mockRunner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, time.Hour)
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Wait() did not return within 2s after context cancel")
	}
}

func TestStoreErrorDoesNotCrash(t *testing.T) {
	store := &mockStore{tests: savedTests(), err: context.DeadlineExceeded}
	var calls int32
	r := replay.New(store, &mockProber{res: &prober.Result{StatusCode: 200}}, &mockRunner{rs: passingPage()}, nil)
	r.SetOnResult(func(replay.Outcome, *bool) { atomic.AddInt32(&calls, 1) })

	r.RunAll(context.Background())

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected callbacks despite store errors, got %d", calls)
	}
}
