package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"fleetpulse/pkg/metrics"
)

// MetricsInterceptor records request counts, durations, and in-flight
// concurrency for every unary gRPC call.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	m := metrics.Get()
	tracker := metrics.NewConnTracker(m.GRPCRequestsInFlight)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		tracker.Start(info.FullMethod)
		defer tracker.End(info.FullMethod)

		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		st, _ := status.FromError(err)
		m.RecordGRPCRequest(info.FullMethod, st.Code().String(), duration)

		return resp, err
	}
}

// StreamMetricsInterceptor is the streaming equivalent of MetricsInterceptor.
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	m := metrics.Get()
	tracker := metrics.NewConnTracker(m.GRPCRequestsInFlight)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		tracker.Start(info.FullMethod)
		defer tracker.End(info.FullMethod)

		start := time.Now()
		err := handler(srv, ss)
		duration := time.Since(start)

		statusStr := "OK"
		if err != nil {
			st, _ := status.FromError(err)
			statusStr = st.Code().String()
		}
		m.RecordGRPCRequest(info.FullMethod, statusStr, duration)

		return err
	}
}
