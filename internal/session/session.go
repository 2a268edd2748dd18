// Package session keeps the state of one user session: the last API result,
// the last page check result and the saved tests.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itswale/api-utils/internal/apperr"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/storage"
)

// Store defines the storage operations required by the session.
type Store interface {
	InsertTest(ctx context.Context, t *storage.SavedTest) error
	CountTests(ctx context.Context) (int, error)
	ListTests(ctx context.Context) ([]storage.SavedTest, error)
	GetTest(ctx context.Context, id string) (*storage.SavedTest, error)
	DeleteAll(ctx context.Context) error
}

// APIOutcome is the most recent API probe, successful or not.
type APIOutcome struct {
	Request prober.Request `json:"request"`
	Result  *prober.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Fault   apperr.Kind    `json:"fault,omitempty"`
	At      time.Time      `json:"at"`
}

// PageOutcome is the most recent page check run.
type PageOutcome struct {
	Request pagecheck.Request   `json:"request"`
	Result  pagecheck.ResultSet `json:"result"`
	At      time.Time           `json:"at"`
}

// Session is safe for concurrent use.
type Session struct {
	store Store

	mu       sync.Mutex
	lastAPI  *APIOutcome
	lastPage *PageOutcome
}

func New(store Store) *Session {
	return &Session{store: store}
}

// RecordAPI stores the outcome of a probe as the last API result.
func (s *Session) RecordAPI(req prober.Request, res *prober.Result, err error) APIOutcome {
	o := APIOutcome{Request: req, Result: res, At: time.Now().UTC()}
	if err != nil {
		o.Result = nil
		o.Error = prober.Message(err)
		o.Fault = apperr.Classify(err)
	}

	s.mu.Lock()
	s.lastAPI = &o
	s.mu.Unlock()
	return o
}

// LastAPI returns the last API outcome, if any.
func (s *Session) LastAPI() (APIOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAPI == nil {
		return APIOutcome{}, false
	}
	return *s.lastAPI, true
}

// RecordPage stores rs as the last page check result.
func (s *Session) RecordPage(req pagecheck.Request, rs pagecheck.ResultSet) PageOutcome {
	o := PageOutcome{Request: req, Result: rs, At: time.Now().UTC()}

	s.mu.Lock()
	s.lastPage = &o
	s.mu.Unlock()
	return o
}

// LastPage returns the last page check outcome, if any.
func (s *Session) LastPage() (PageOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPage == nil {
		return PageOutcome{}, false
	}
	return *s.lastPage, true
}

// SaveAPI keeps req as a saved test named "Test N API".
func (s *Session) SaveAPI(ctx context.Context, req prober.Request) (*storage.SavedTest, error) {
	return s.save(ctx, &storage.SavedTest{Kind: storage.KindAPI, API: &req})
}

// SaveUI keeps req as a saved test named "Test N UI".
func (s *Session) SaveUI(ctx context.Context, req pagecheck.Request) (*storage.SavedTest, error) {
	req.Checks = append([]pagecheck.Kind(nil), req.Checks...)
	return s.save(ctx, &storage.SavedTest{Kind: storage.KindUI, UI: &req})
}

func (s *Session) save(ctx context.Context, t *storage.SavedTest) (*storage.SavedTest, error) {
	// Held across count and insert so concurrent saves get distinct numbers.
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.store.CountTests(ctx)
	if err != nil {
		return nil, err
	}
	suffix := "API"
	if t.Kind == storage.KindUI {
		suffix = "UI"
	}
	t.Name = fmt.Sprintf("Test %d %s", n+1, suffix)

	if err := s.store.InsertTest(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Tests returns the saved tests in save order.
func (s *Session) Tests(ctx context.Context) ([]storage.SavedTest, error) {
	return s.store.ListTests(ctx)
}

// Test returns one saved test, or nil if it does not exist.
func (s *Session) Test(ctx context.Context, id string) (*storage.SavedTest, error) {
	return s.store.GetTest(ctx, id)
}

// Reset clears the saved tests and both last results.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("resetting session: %w", err)
	}
	s.lastAPI = nil
	s.lastPage = nil
	return nil
}
