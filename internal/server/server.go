package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/apperr"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/replay"
	"github.com/itswale/api-utils/internal/report"
	"github.com/itswale/api-utils/internal/session"
	"github.com/itswale/api-utils/internal/storage"
)

const maxRequestBytes = 1 << 20

// Prober sends API requests.
type Prober interface {
	Probe(ctx context.Context, req prober.Request) (*prober.Result, error)
}

// Replayer re-runs one saved test.
type Replayer interface {
	RunTest(ctx context.Context, id string) (*replay.Outcome, error)
}

// RunStore defines the run history queries the server needs.
type RunStore interface {
	LatestRun(ctx context.Context, testID string) (*storage.Run, error)
	RunHistory(ctx context.Context, testID string, limit, offset int) ([]storage.Run, int, error)
	PassRate(ctx context.Context, testID string, last int) (float64, error)
}

// Deps are the components the handlers call into.
type Deps struct {
	Session        *session.Session
	Prober         Prober
	Runner         pagecheck.Runner
	Replayer       Replayer
	Runs           RunStore
	AllowedOrigins []string
}

// Server holds the chi router and its dependencies.
type Server struct {
	deps     Deps
	validate *validator.Validate
	router   chi.Router
	logger   *zap.Logger
}

// New creates a new Server and registers all routes.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		validate: newValidator(),
		router:   chi.NewRouter(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	if len(s.deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.deps.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)

	r.Post("/api/probe", s.handleProbe)
	r.Get("/api/probe/last", s.handleLastProbe)

	r.Post("/api/checks", s.handleChecks)
	r.Get("/api/checks/last", s.handleLastChecks)

	r.Get("/api/tests", s.handleListTests)
	r.Delete("/api/tests", s.handleReset)
	r.Get("/api/tests/{id}", s.handleGetTest)
	r.Post("/api/tests/{id}/run", s.handleRunTest)
	r.Get("/api/tests/{id}/history", s.handleTestHistory)
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("check", func(fl validator.FieldLevel) bool {
		_, err := pagecheck.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid field %s", verrs[0].Field())
		}
		return err
	}
	return nil
}

// probeStatus maps a probe failure onto an HTTP status.
func probeStatus(err error) int {
	switch apperr.Classify(err) {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type probeRequest struct {
	Method  string `json:"method"`
	URL     string `json:"url" validate:"required"`
	Headers string `json:"headers"`
	Body    string `json:"body"`
	Save    bool   `json:"save"`
}

type apiResponse struct {
	session.APIOutcome
	Hint  string             `json:"hint,omitempty"`
	Saved *storage.SavedTest `json:"saved,omitempty"`
}

func newAPIResponse(o session.APIOutcome) apiResponse {
	resp := apiResponse{APIOutcome: o}
	if o.Error != "" {
		resp.Hint = report.APIHint
	}
	return resp
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var in probeRequest
	if err := s.decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := prober.Request{Method: in.Method, URL: in.URL, Headers: in.Headers, Body: in.Body}
	res, err := s.deps.Prober.Probe(r.Context(), req)
	outcome := s.deps.Session.RecordAPI(req, res, err)
	if err != nil {
		// Failed outcomes carry fault and hint next to the message.
		writeEnvelope(w, probeStatus(err), envelope{Data: newAPIResponse(outcome), Error: outcome.Error})
		return
	}

	resp := newAPIResponse(outcome)
	if in.Save {
		saved, err := s.deps.Session.SaveAPI(r.Context(), req)
		if err != nil {
			s.logger.Error("saving api test", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.Saved = saved
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLastProbe(w http.ResponseWriter, r *http.Request) {
	o, ok := s.deps.Session.LastAPI()
	if !ok {
		writeError(w, http.StatusNotFound, "No API response available. Please make a request.")
		return
	}
	writeJSON(w, http.StatusOK, newAPIResponse(o))
}

type checksRequest struct {
	URL            string   `json:"url" validate:"required,url"`
	Checks         []string `json:"checks" validate:"required,min=1,dive,check"`
	SearchText     string   `json:"search_text"`
	CustomSelector string   `json:"custom_selector"`
	Save           bool     `json:"save"`
}

type pageResponse struct {
	URL             string             `json:"url"`
	Lines           []report.Line      `json:"lines"`
	NavigationError string             `json:"navigation_error,omitempty"`
	Fault           apperr.Kind        `json:"fault,omitempty"`
	Hint            string             `json:"hint,omitempty"`
	Summary         string             `json:"summary"`
	Passed          bool               `json:"passed"`
	At              time.Time          `json:"at"`
	Saved           *storage.SavedTest `json:"saved,omitempty"`
}

func newPageResponse(o session.PageOutcome) pageResponse {
	resp := pageResponse{
		URL:             o.Request.URL,
		Lines:           report.Lines(o.Result),
		NavigationError: o.Result.NavigationError,
		Fault:           o.Result.Fault,
		Summary:         o.Result.Summary(),
		Passed:          o.Result.Passed(),
		At:              o.At,
	}
	if o.Result.Failed() {
		resp.Hint = report.NavigationHint
	}
	return resp
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request) {
	var in checksRequest
	if err := s.decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kinds, err := pagecheck.ParseKinds(in.Checks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := pagecheck.Request{
		URL:            in.URL,
		Checks:         kinds,
		SearchText:     in.SearchText,
		CustomSelector: in.CustomSelector,
	}
	rs := s.deps.Runner.Run(r.Context(), req)
	outcome := s.deps.Session.RecordPage(req, rs)

	resp := newPageResponse(outcome)
	if in.Save && !rs.Failed() {
		saved, err := s.deps.Session.SaveUI(r.Context(), req)
		if err != nil {
			s.logger.Error("saving ui test", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.Saved = saved
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLastChecks(w http.ResponseWriter, r *http.Request) {
	o, ok := s.deps.Session.LastPage()
	if !ok {
		writeError(w, http.StatusNotFound, "No UI test results available. Please run a test.")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(o))
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
