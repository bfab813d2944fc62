package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// ReadinessChecker reports whether every clean dataset can be read.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// missingDatasets is implemented by readiness errors that know which
// datasets still lack a clean snapshot.
type missingDatasets interface {
	MissingDatasets() []string
}

type statusResponse struct {
	Status  string   `json:"status"`
	Job     string   `json:"job,omitempty"`
	Error   string   `json:"error,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Server reports the state of a running crimeetl command.
type Server struct {
	httpServer *http.Server
	job        string
	ready      ReadinessChecker
	logger     *slog.Logger
}

// NewServer routes /healthz, /readyz and /metrics. job names the running
// subcommand in status payloads; /metrics serves only what g gathers.
func NewServer(addr, job string, ready ReadinessChecker, g prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		job:    job,
		ready:  ready,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /readyz", s.readiness)
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)}))
	return s
}

// Start serves until Shutdown, which makes it return http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.httpServer.Addr, "job", s.job)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, statusResponse{Status: "healthy", Job: s.job})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	err := s.ready.CheckReadiness(ctx)
	if err == nil {
		s.write(w, http.StatusOK, statusResponse{Status: "ready", Job: s.job})
		return
	}
	resp := statusResponse{Status: "not ready", Job: s.job, Error: err.Error()}
	var m missingDatasets
	if errors.As(err, &m) {
		resp.Missing = m.MissingDatasets()
	}
	s.write(w, http.StatusServiceUnavailable, resp)
}

func (s *Server) write(w http.ResponseWriter, status int, resp statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("write status response", "error", err)
	}
}
