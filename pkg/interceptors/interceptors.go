package interceptors

import (
	"google.golang.org/grpc"

	"fleetpulse/pkg/ratelimit"
	"fleetpulse/pkg/telemetry"
)

// ServerConfig controls which interceptors UnaryServerInterceptors and
// StreamServerInterceptors assemble into the server chain.
type ServerConfig struct {
	EnableTracing bool
	RateLimiter   ratelimit.Limiter
	KeyExtractor  ratelimit.KeyExtractor
}

// UnaryServerInterceptors builds the query surface's unary interceptor
// chain: recovery -> rate limiting -> tracing -> metrics -> logging.
func UnaryServerInterceptors(cfg *ServerConfig) grpc.UnaryServerInterceptor {
	chain := []grpc.UnaryServerInterceptor{RecoveryInterceptor()}

	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}
	if cfg.EnableTracing {
		chain = append(chain, telemetry.UnaryServerInterceptor())
	}
	chain = append(chain, MetricsInterceptor(), LoggingInterceptor())

	return chainUnaryInterceptors(chain...)
}

// StreamServerInterceptors builds the query surface's streaming
// interceptor chain in the same order as UnaryServerInterceptors.
func StreamServerInterceptors(cfg *ServerConfig) grpc.StreamServerInterceptor {
	chain := []grpc.StreamServerInterceptor{StreamRecoveryInterceptor()}

	if cfg.RateLimiter != nil {
		chain = append(chain, StreamRateLimitInterceptor(cfg.RateLimiter, cfg.KeyExtractor))
	}
	if cfg.EnableTracing {
		chain = append(chain, telemetry.StreamServerInterceptor())
	}
	chain = append(chain, StreamMetricsInterceptor(), StreamLoggingInterceptor())

	return chainStreamInterceptors(chain...)
}
