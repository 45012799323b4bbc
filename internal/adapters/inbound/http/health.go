// Package http serves the bot's probe and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl/auto-repay/internal/ports/inbound"
)

// ServerConfig holds configuration for the health server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server answers container probes from the scan loop's state.
//
//   - /health/ready returns 200 once the first scan has completed
//   - /health/live returns 200 while scans keep completing
//   - /health combines both for dashboards and load balancers
//
// After MarkShuttingDown every probe returns 503 so the orchestrator stops
// routing to this replica before repairs drain.
type Server struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown atomic.Bool
	logger       *slog.Logger
}

// NewServer creates a health server. It does not listen until Start.
func NewServer(config ServerConfig, checker inbound.HealthChecker) (*Server, error) {
	if checker == nil {
		return nil, errors.New("health checker cannot be nil")
	}
	d := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = d.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		checker: checker,
		logger:  config.Logger.With("component", "health-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	if config.Metrics != nil {
		mux.Handle("GET /metrics", config.Metrics)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting health server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server failed", "error", err)
		}
	}()
}

// MarkShuttingDown makes every probe fail from now on.
func (s *Server) MarkShuttingDown() {
	s.shuttingDown.Store(true)
}

// Shutdown stops the listener, waiting at most timeout for open requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.probe(w, s.checker.IsReady(), "ready", "not_ready")
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	s.probe(w, s.checker.IsHealthy(), "healthy", "unhealthy")
}

func (s *Server) probe(w http.ResponseWriter, ok bool, up, down string) {
	switch {
	case s.shuttingDown.Load():
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case ok:
		s.respondJSON(w, http.StatusOK, map[string]string{"status": up})
	default:
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": down})
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	Healthy      bool   `json:"healthy"`
	ShuttingDown bool   `json:"shuttingDown"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down", ShuttingDown: true})
		return
	}

	resp := healthResponse{
		Status:  "ok",
		Ready:   s.checker.IsReady(),
		Healthy: s.checker.IsHealthy(),
	}
	code := http.StatusOK
	if !resp.Ready || !resp.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
