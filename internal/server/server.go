// Package server exposes health, readiness, and Prometheus endpoints while
// the warmer runs on a schedule.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/metrics"
	"github.com/JakeFAU/edge-warmer/internal/orchestrator"
)

// RunState tracks the scheduler's progress for the readiness probe.
type RunState struct {
	mu       sync.RWMutex
	running  bool
	runs     int
	lastRun  string
	lastDone time.Time
	lastErrs int
}

// Started marks a run as in flight.
func (s *RunState) Started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// Finished records a completed run.
func (s *RunState) Finished(summary orchestrator.Summary) {
	_, _, failed, _ := summary.Totals()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	s.lastRun = summary.RunID
	s.lastDone = summary.FinishedAt
	s.lastErrs = failed
}

type statusPayload struct {
	Status      string `json:"status"`
	Running     bool   `json:"running"`
	Runs        int    `json:"runs"`
	LastRunID   string `json:"last_run_id,omitempty"`
	LastRunDone string `json:"last_run_finished_at,omitempty"`
	LastFailed  int    `json:"last_run_failed"`
}

func (s *RunState) snapshot() statusPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := statusPayload{
		Running:    s.running,
		Runs:       s.runs,
		LastRunID:  s.lastRun,
		LastFailed: s.lastErrs,
	}
	if !s.lastDone.IsZero() {
		p.LastRunDone = s.lastDone.UTC().Format(time.RFC3339)
	}
	return p
}

// Server wires the probe handlers to a chi router.
type Server struct {
	router chi.Router
	state  *RunState
	logger *zap.Logger
}

// New constructs a Server with middleware and routes.
func New(state *RunState, logger *zap.Logger) *Server {
	if state == nil {
		state = &RunState{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{state: state, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the first run has finished.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	p := s.state.snapshot()
	if p.Runs == 0 {
		p.Status = "starting"
		s.writeJSON(w, http.StatusServiceUnavailable, p)
		return
	}
	p.Status = "ready"
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
