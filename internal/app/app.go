// Package app wires every fleetpulse component (ingest, the durable
// store, the live fan-out, the query surface, and both the HTTP and
// gRPC transports) into one process, and owns that process's startup
// and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"fleetpulse/internal/broker"
	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/ingest"
	"fleetpulse/internal/query"
	"fleetpulse/internal/ratewindow"
	"fleetpulse/internal/rpcapi"
	"fleetpulse/internal/store"
	"fleetpulse/internal/vehiclecache"
	"fleetpulse/pkg/cache"
	"fleetpulse/pkg/config"
	"fleetpulse/pkg/httpapi"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
	"fleetpulse/pkg/openapi"
	"fleetpulse/pkg/ratelimit"
	"fleetpulse/pkg/report"
	"fleetpulse/pkg/rpcserver"
	"fleetpulse/pkg/swagger"
	"fleetpulse/pkg/telemetry"
)

// shutdownWatchdog bounds how long a graceful shutdown may run before the
// process hard-exits.
const shutdownWatchdog = 5 * time.Second

// App owns every long-lived collaborator fleetpulse needs and the order
// they start and stop in.
type App struct {
	cfg *config.Config

	store       *store.Store
	vehicles    *vehiclecache.Cache
	rate        *ratewindow.Window
	counters    *counters.Operational
	hub         *fanout.Hub
	broker      *broker.Subscriber
	ingest      *ingest.Pipeline
	query       *query.Service
	report      *report.Service
	resultCache cache.Cache

	http *httpapi.Server
	grpc *rpcserver.Server

	telemetry *telemetry.Provider

	rollupCancel context.CancelFunc
	rollupDone   chan struct{}
}

// New builds every collaborator from cfg but does not start any of
// them; call Run to do that.
func New(cfg *config.Config) (*App, error) {
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	metrics.InitMetrics(cfg.Metrics.Namespace)

	a := &App{cfg: cfg}

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Path: cfg.TelemetryDB.Path})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.store = st

	a.vehicles = vehiclecache.New(cfg.VehicleTTL.Limit, cfg.VehicleTTL.TTL)
	a.rate = ratewindow.New(int64(cfg.TelemetryDB.MessageWindowMs))
	a.counters = &counters.Operational{}

	snapshotFn := func() []fanout.Snapshot {
		values := a.vehicles.Values()
		out := make([]fanout.Snapshot, 0, len(values))
		for _, v := range values {
			out = append(out, fanout.Snapshot{
				VehicleID:    v.VehicleID,
				Lat:          v.Lat,
				Lng:          v.Lng,
				Timestamp:    v.RecordedAt,
				Speed:        v.SpeedKmh,
				FuelLevel:    v.FuelLevel,
				EngineStatus: v.EngineStatus,
				LastSeen:     v.LastSeen,
			})
		}
		return out
	}
	a.hub = fanout.New(fanout.Config{}, snapshotFn)

	a.ingest = ingest.New(a.vehicles, a.rate, a.store, a.hub, a.counters)

	a.broker = broker.New(cfg.Broker, a.ingest.Handle)

	if cfg.QueryCache.Enabled {
		a.resultCache = cache.MustNew(cache.FromConfig(cfg.QueryCache))
	}

	windows := make([]int64, 0, len(cfg.TelemetryDB.Windows()))
	for _, w := range cfg.TelemetryDB.Windows() {
		windows = append(windows, int64(w))
	}

	a.query = query.New(a.vehicles, a.rate, a.counters, a.hub, a.store, query.Config{
		ResultCache:    a.resultCache,
		ResultCacheTTL: cfg.QueryCache.DefaultTTL,
		Windows:        windows,
	})

	a.report = report.New(a.query, report.Config{
		MaxReportSizeBytes: cfg.Report.MaxReportSizeBytes,
		MaxEventsInTable:   cfg.Report.MaxEventsInTable,
		DefaultCompanyName: cfg.Report.DefaultCompanyName,
	})

	a.http = httpapi.New(cfg.HTTP, httpapi.Deps{
		Query:    a.query,
		Report:   a.report,
		Hub:      a.hub,
		Counters: a.counters,
		Ready:    a.broker.Connected,
	})

	if cfg.GRPC.Enabled {
		var rateLimiter ratelimit.Limiter
		if cfg.RateLimit.Enabled {
			rl, err := ratelimit.New(&ratelimit.Config{
				Requests:        cfg.RateLimit.Requests,
				Window:          cfg.RateLimit.Window,
				Backend:         cfg.RateLimit.Backend,
				BurstSize:       cfg.RateLimit.BurstSize,
				CleanupInterval: cfg.RateLimit.CleanupInterval,
				RedisAddr:       cfg.RateLimit.RedisAddr,
			})
			if err != nil {
				logger.Log.Warn("app: failed to build rate limiter, continuing without it", "error", err)
			} else {
				rateLimiter = rl
			}
		}

		a.grpc = rpcserver.New(cfg, &rpcserver.Options{
			RateLimiter:  rateLimiter,
			KeyExtractor: ratelimit.DefaultKeyExtractor,
		})
		handler := rpcapi.NewHandler(a.query, time.Duration(cfg.GRPC.StreamIntervalMs)*time.Millisecond)
		a.grpc.Engine().RegisterService(&rpcapi.ServiceDesc, handler)
	}

	return a, nil
}

// Run starts ingest, both transports, and the rollup scheduler, then
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	brokerCtx, brokerCancel := context.WithTimeout(ctx, a.cfg.Broker.ConnectTimeout+5*time.Second)
	defer brokerCancel()
	if err := a.broker.Start(brokerCtx); err != nil {
		logger.Log.Error("app: broker start failed, continuing in degraded mode", "error", err)
	}

	a.vehicles.Start()
	a.startRollupScheduler()

	if a.cfg.Tracing.Enabled && !a.cfg.GRPC.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     a.cfg.Tracing.Enabled,
			Endpoint:    a.cfg.Tracing.Endpoint,
			ServiceName: a.cfg.Tracing.ServiceName,
			Version:     a.cfg.App.Version,
			Environment: a.cfg.App.Environment,
			SampleRate:  a.cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("app: failed to init telemetry", "error", err)
		} else {
			a.telemetry = tp
		}
	}

	// When gRPC is disabled, pkg/rpcserver never runs and so never starts
	// the metrics/swagger ancillary servers either; app takes that over.
	if !a.cfg.GRPC.Enabled {
		if a.cfg.Metrics.Enabled {
			go func() {
				if err := metrics.StartMetricsServer(a.cfg.Metrics.Port); err != nil {
					logger.Log.Error("app: metrics server failed", "error", err)
				}
			}()
		}
		if a.cfg.Swagger.Enabled {
			go func() {
				spec, err := openapi.GetSpec()
				if err != nil {
					logger.Log.Error("app: failed to load openapi spec", "error", err)
					return
				}
				srv := swagger.NewServer(&swagger.Config{Title: a.cfg.Swagger.Title, BasePath: "/swagger", SpecPath: "/openapi.json"}, spec)
				if err := srv.Start(a.cfg.Swagger.Port); err != nil {
					logger.Log.Error("app: swagger server failed", "error", err)
				}
			}()
		}
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.http.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.grpc != nil {
		go func() {
			if err := a.grpc.Run(ctx); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		logger.Log.Error("app: component failed, shutting down", "error", err)
		_ = a.shutdown()
		return err
	}
}

// shutdown runs the teardown sequence under a watchdog: once the
// timeout elapses the process force-exits rather than hang forever.
func (a *App) shutdown() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.shutdownSequence()
	}()

	select {
	case <-done:
		logger.Log.Info("app: shutdown complete")
		return nil
	case <-time.After(shutdownWatchdog):
		logger.Log.Error("app: shutdown watchdog expired, forcing exit")
		os.Exit(1)
		return nil
	}
}

func (a *App) shutdownSequence() {
	// Stop accepting new broker deliveries and disconnect first, so no
	// further messages enter the pipeline while the rest tears down.
	a.broker.Stop(250)

	a.stopRollupScheduler()
	a.vehicles.Stop()

	// Close fan-out so every subscriber transport sees a clean close
	// instead of a reset when the process exits.
	a.hub.Close()

	if err := a.http.Shutdown(); err != nil {
		logger.Log.Warn("app: http shutdown error", "error", err)
	}
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}

	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("app: telemetry shutdown error", "error", err)
		}
	}

	if a.resultCache != nil {
		if err := a.resultCache.Close(); err != nil {
			logger.Log.Warn("app: result cache close error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		logger.Log.Warn("app: store close error", "error", err)
	}
}

// startRollupScheduler launches a single ticking goroutine that, on each
// tick, calls store.RunRollup for every configured rollup window in turn.
func (a *App) startRollupScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	a.rollupCancel = cancel
	a.rollupDone = make(chan struct{})

	intervalMs := a.cfg.TelemetryDB.RollupIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10_000
	}
	interval := time.Duration(intervalMs) * time.Millisecond
	catchUp := a.cfg.TelemetryDB.RollupCatchUpWindows

	windows := a.cfg.TelemetryDB.Windows()

	go func() {
		defer close(a.rollupDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, w := range windows {
					if _, err := a.store.RunRollup(ctx, int64(w), catchUp, false); err != nil {
						logger.Log.Error("app: rollup run failed", "window_seconds", w, "error", err)
					}
				}
			}
		}
	}()
}

func (a *App) stopRollupScheduler() {
	if a.rollupCancel == nil {
		return
	}
	a.rollupCancel()
	<-a.rollupDone
}
