package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/replay"
	"github.com/itswale/api-utils/internal/report"
	"github.com/itswale/api-utils/internal/storage"
)

// passRateWindow is the number of recent runs the pass rate covers.
const passRateWindow = 100

type testSummary struct {
	storage.SavedTest
	LastRun *storage.Run `json:"last_run"`
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.deps.Session.Tests(r.Context())
	if err != nil {
		s.logger.Error("ListTests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]testSummary, 0, len(tests))
	for _, t := range tests {
		last, err := s.deps.Runs.LatestRun(r.Context(), t.ID)
		if err != nil {
			s.logger.Warn("LatestRun", zap.String("test", t.ID), zap.Error(err))
		}
		out = append(out, testSummary{SavedTest: t, LastRun: last})
	}
	writeJSON(w, http.StatusOK, out)
}

type testDetail struct {
	testSummary
	PassRate   float64       `json:"pass_rate"`
	RecentRuns []storage.Run `json:"recent_runs"`
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := s.lookupTest(w, r, id)
	if !ok {
		return
	}

	last, err := s.deps.Runs.LatestRun(r.Context(), id)
	if err != nil {
		s.logger.Error("LatestRun", zap.String("test", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	recent, _, err := s.deps.Runs.RunHistory(r.Context(), id, 10, 0)
	if err != nil {
		s.logger.Error("RunHistory", zap.String("test", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	pct, _ := s.deps.Runs.PassRate(r.Context(), id, passRateWindow)

	writeJSON(w, http.StatusOK, testDetail{
		testSummary: testSummary{SavedTest: *t, LastRun: last},
		PassRate:    pct,
		RecentRuns:  recent,
	})
}

// lookupTest writes a 404 or 500 response and returns false when the test
// cannot be loaded.
func (s *Server) lookupTest(w http.ResponseWriter, r *http.Request, id string) (*storage.SavedTest, bool) {
	t, err := s.deps.Session.Test(r.Context(), id)
	if err != nil {
		s.logger.Error("GetTest", zap.String("test", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "test not found")
		return nil, false
	}
	return t, true
}

type runResponse struct {
	Test     storage.SavedTest `json:"test"`
	Run      storage.Run       `json:"run"`
	API      *prober.Result    `json:"api,omitempty"`
	APIError string            `json:"api_error,omitempty"`
	Page     *pageResult       `json:"page,omitempty"`
	Hint     string            `json:"hint,omitempty"`
}

type pageResult struct {
	Lines           []report.Line `json:"lines"`
	NavigationError string        `json:"navigation_error,omitempty"`
}

func newRunResponse(o *replay.Outcome) runResponse {
	resp := runResponse{Test: o.Test, Run: o.Run, API: o.API, APIError: o.APIError}
	if o.APIError != "" {
		resp.Hint = report.APIHint
	}
	if o.Page != nil {
		resp.Page = &pageResult{
			Lines:           report.Lines(*o.Page),
			NavigationError: o.Page.NavigationError,
		}
		if o.Page.Failed() {
			resp.Hint = report.NavigationHint
		}
	}
	return resp
}

func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	o, err := s.deps.Replayer.RunTest(r.Context(), id)
	if errors.Is(err, replay.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		s.logger.Error("RunTest", zap.String("test", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(o))
}

type historyResponse struct {
	Runs  []storage.Run `json:"runs"`
	Total int           `json:"total"`
}

func (s *Server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.lookupTest(w, r, id); !ok {
		return
	}

	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	runs, total, err := s.deps.Runs.RunHistory(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.Error("RunHistory", zap.String("test", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Runs:  runs,
		Total: total,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.Reset(r.Context()); err != nil {
		s.logger.Error("Reset", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All tests reset!"})
}
