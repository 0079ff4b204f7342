// Package httpapi implements the plain HTTP surface: health/readiness/stats
// endpoints, windowed aggregates, paginated history, fleet report
// export, and the live fan-out's /stream websocket upgrade, all behind
// a permissive CORS policy.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/query"
	"fleetpulse/pkg/config"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/report"
)

// ReadyFunc reports whether the broker connection backing ingest is up,
// gating /readyz.
type ReadyFunc func() bool

// Server wraps a *http.Server exposing fleetpulse's plain HTTP query
// surface and the websocket fan-out endpoint.
type Server struct {
	http   *http.Server
	config config.HTTPConfig
}

// Deps carries every collaborator the HTTP surface reads from. None of
// them are mutated by this package.
type Deps struct {
	Query        *query.Service
	Report       *report.Service
	Hub          *fanout.Hub
	Counters     *counters.Operational
	Ready        ReadyFunc
	DefaultLimit int
	MaxLimit     int
}

// New builds a Server from cfg and deps. It does not start listening
// until Run is called.
func New(cfg config.HTTPConfig, deps Deps) *Server {
	h := newHandlers(deps)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/readyz", h.readyz)
	mux.HandleFunc("/stats", h.stats)
	mux.HandleFunc("/telemetry/summary", h.summary)
	mux.HandleFunc("/telemetry/history", h.history)
	mux.HandleFunc("/telemetry/report", h.exportReport)

	streamPath := cfg.StreamPath
	if streamPath == "" {
		streamPath = "/stream"
	}
	mux.Handle(streamPath, deps.Hub)

	var handler http.Handler = mux
	if cfg.CORS.Enabled {
		handler = corsMiddleware(cfg.CORS)(mux)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{http: srv, config: cfg}
}

// Run starts the HTTP server and blocks until it stops or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("starting http server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server within the configured
// shutdown timeout.
func (s *Server) Shutdown() error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
