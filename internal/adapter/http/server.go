package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agxdata/nyc311-weather-etl/internal/pipeline"
)

// PipelineStatus reports readiness and the latest run.
type PipelineStatus interface {
	sharedobs.ReadinessChecker
	LastRun() (pipeline.RunStatus, bool)
}

// RunTrigger starts a run on demand.
type RunTrigger interface {
	TriggerRun() bool
}

// Server exposes health, readiness, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /runs/latest routes. POST /runs is added when trigger is non-nil.
func NewServer(addr string, status PipelineStatus, trigger RunTrigger, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(status))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /runs/latest", handleLatestRun(status))
	if trigger != nil {
		mux.HandleFunc("POST /runs", s.handleTrigger(trigger))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleLatestRun(status PipelineStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		run, ok := status.LastRun()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no run yet"})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleTrigger(trigger RunTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !trigger.TriggerRun() {
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"status": "run already in progress"})
			return
		}
		s.logger.Info("run triggered over http")
		sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "run started"})
	}
}
