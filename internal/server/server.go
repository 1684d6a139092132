// Package server exposes the governance state over HTTP: Prometheus metrics,
// health probes, and JSON snapshots of every breaker, limiter, and cost
// tracker.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apigovernor/internal/governor"
	"apigovernor/internal/observability/tracing"
	"apigovernor/pkg/health"
)

// Server serves the governance observability endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the HTTP server for the given governor and aggregator.
//
// Endpoints:
//   - GET /metrics  - Prometheus metrics
//   - GET /health   - full health snapshot; 503 when the system is unhealthy
//   - GET /live     - liveness probe, always 200
//   - GET /breakers - per-service circuit breaker snapshots
//   - GET /limiters - per-provider rate limiter snapshots
//   - GET /costs    - per-scope cost tracker snapshots
func New(port int, gov *governor.Governor, agg *health.Aggregator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(agg))
	mux.HandleFunc("/live", liveHandler)
	mux.HandleFunc("/breakers", snapshotHandler(func() any { return gov.Breakers().Snapshots() }))
	mux.HandleFunc("/limiters", snapshotHandler(func() any { return gov.Limiters().Snapshots() }))
	mux.HandleFunc("/costs", snapshotHandler(func() any { return gov.Trackers().Snapshots() }))

	handler := tracing.Middleware(requestIDMiddleware(mux))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's HTTP handler. Test use.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully with a
// 5-second drain window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// healthHandler serves the full health snapshot. Degraded systems still
// return 200 so that an orchestrator does not restart a process that is
// merely approaching its quotas.
func healthHandler(agg *health.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		snapshot := agg.Snapshot()
		code := http.StatusOK
		if snapshot.SystemHealth.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, snapshot)
	}
}

// liveHandler is the liveness probe: the process is up and serving.
func liveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// snapshotHandler serves a registry snapshot collection as JSON.
func snapshotHandler(collect func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, collect())
	}
}

var errMethodNotAllowed = errors.New("method not allowed")
