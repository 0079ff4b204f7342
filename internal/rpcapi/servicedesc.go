package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(*Handler)
	if interceptor == nil {
		return h.Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Snapshot"}
	next := func(ctx context.Context, req any) (any, error) {
		return h.Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, next)
}

func aggregatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AggregatesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(*Handler)
	if interceptor == nil {
		return h.Aggregates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Aggregates"}
	next := func(ctx context.Context, req any) (any, error) {
		return h.Aggregates(ctx, req.(*AggregatesRequest))
	}
	return interceptor(ctx, in, info, next)
}

func liveSnapshotHandler(srv any, stream grpc.ServerStream) error {
	in := new(LiveSnapshotRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Handler).LiveSnapshot(in, stream)
}

func historyHandler(srv any, stream grpc.ServerStream) error {
	in := new(HistoryRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Handler).History(in, stream)
}

// ServiceDesc describes the TelemetryQuery service for registration via
// (*grpc.Server).RegisterService(&rpcapi.ServiceDesc, handler). Its shape
// mirrors what protoc-gen-go-grpc would emit for a service with this
// method set; see the package doc comment for why it is hand-written.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
		{MethodName: "Aggregates", Handler: aggregatesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "LiveSnapshot", Handler: liveSnapshotHandler, ServerStreams: true},
		{StreamName: "History", Handler: historyHandler, ServerStreams: true},
	},
	Metadata: "fleetpulse/telemetry_query.proto",
}
