// Package rpcserver wraps google.golang.org/grpc's server with fleetpulse's
// keepalive policy, health service, reflection in development, and the
// interceptor chain from pkg/interceptors.
package rpcserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"fleetpulse/pkg/config"
	"fleetpulse/pkg/interceptors"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
	"fleetpulse/pkg/openapi"
	"fleetpulse/pkg/ratelimit"
	"fleetpulse/pkg/swagger"
	"fleetpulse/pkg/telemetry"
)

// Server wraps a *grpc.Server with fleetpulse's lifecycle management.
type Server struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	config      *config.Config
	telemetry   *telemetry.Provider
	rateLimiter ratelimit.Limiter
}

// Options carries dependencies the caller has already constructed,
// overriding what Server would otherwise build from config.
type Options struct {
	RateLimiter  ratelimit.Limiter
	KeyExtractor ratelimit.KeyExtractor
}

// New builds a Server from cfg, constructing its own rate limiter when
// cfg.RateLimit.Enabled and opts doesn't supply one.
func New(cfg *config.Config, opts *Options) *Server {
	if opts == nil {
		opts = &Options{}
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle: cfg.GRPC.KeepAlive.MaxConnectionIdle,
		Time:              cfg.GRPC.KeepAlive.Time,
		Timeout:           cfg.GRPC.KeepAlive.Timeout,
	}
	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	rateLimiter := opts.RateLimiter
	if rateLimiter == nil && cfg.RateLimit.Enabled {
		var err error
		rateLimiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("failed to create rate limiter, continuing without it", "error", err)
			rateLimiter = nil
		} else {
			logger.Log.Info("rate limiter initialized",
				"requests", cfg.RateLimit.Requests,
				"window", cfg.RateLimit.Window,
			)
		}
	}

	interceptorCfg := &interceptors.ServerConfig{
		EnableTracing: cfg.Tracing.Enabled,
		RateLimiter:   rateLimiter,
		KeyExtractor:  opts.KeyExtractor,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMsgSize),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptors(interceptorCfg)),
		grpc.StreamInterceptor(interceptors.StreamServerInterceptors(interceptorCfg)),
		grpc.ForceServerCodec(jsonCodec{}),
	}

	s := grpc.NewServer(serverOpts...)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.IsDevelopment() {
		reflection.Register(s)
		logger.Log.Debug("grpc reflection enabled")
	}

	return &Server{
		server:      s,
		health:      h,
		serviceName: cfg.App.Name,
		config:      cfg,
		rateLimiter: rateLimiter,
	}
}

// Engine returns the underlying *grpc.Server for service registration.
func (s *Server) Engine() *grpc.Server { return s.server }

// Run starts the server and the ancillary metrics/swagger servers, then
// blocks until a shutdown signal is received or the server fails.
func (s *Server) Run(ctx context.Context) error {
	if s.config.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.Tracing.Enabled,
			Endpoint:    s.config.Tracing.Endpoint,
			ServiceName: s.config.Tracing.ServiceName,
			Version:     s.config.App.Version,
			Environment: s.config.App.Environment,
			SampleRate:  s.config.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("telemetry initialized", "endpoint", s.config.Tracing.Endpoint)
		}
	}

	if s.config.Metrics.Enabled {
		go func() {
			logger.Log.Info("starting metrics server", "port", s.config.Metrics.Port)
			if err := metrics.StartMetricsServer(s.config.Metrics.Port); err != nil {
				logger.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	if s.config.Swagger.Enabled {
		go func() {
			spec, err := openapi.GetSpec()
			if err != nil {
				logger.Log.Error("failed to load openapi spec", "error", err)
				return
			}
			srv := swagger.NewServer(&swagger.Config{Title: s.config.Swagger.Title, BasePath: "/swagger", SpecPath: "/openapi.json"}, spec)
			if err := srv.Start(s.config.Swagger.Port); err != nil {
				logger.Log.Error("swagger server failed", "error", err)
			}
		}()
		logger.Log.Info("swagger ui started", "port", s.config.Swagger.Port)
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.config.GRPC.Host, s.config.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("starting grpc server", "service", s.serviceName, "port", s.config.GRPC.Port)
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(s.config.App.Version, s.config.App.Environment)
	}

	return s.waitForShutdown(ctx, errCh)
}

func (s *Server) waitForShutdown(runCtx context.Context, errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Log.Info("received shutdown signal", "signal", sig)
	case <-runCtx.Done():
		logger.Log.Info("run context cancelled, shutting down grpc server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("failed to shutdown telemetry", "error", err)
		}
	}
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Close(); err != nil {
			logger.Log.Warn("failed to close rate limiter", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("server stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("forcing server stop")
		s.server.Stop()
	}

	return nil
}

// SetServingStatus sets the health service's status for this service name.
func (s *Server) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// Stop stops the server immediately.
func (s *Server) Stop() { s.server.Stop() }

// GracefulStop stops the server, letting in-flight RPCs finish.
func (s *Server) GracefulStop() { s.server.GracefulStop() }
