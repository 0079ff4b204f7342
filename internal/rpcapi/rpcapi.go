// Package rpcapi exposes internal/query over google.golang.org/grpc
// without protoc-generated types (see DESIGN.md "Open Questions", item
// 1): every request/response is a JSON-tagged Go struct, carried by the
// custom codec pkg/rpcserver registers, and routed through a
// hand-written grpc.ServiceDesc instead of one emitted by protoc-gen-go.
package rpcapi

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"fleetpulse/internal/query"
	"fleetpulse/internal/store"
	"fleetpulse/pkg/apperror"
)

// ServiceName is the fully qualified gRPC service name used in
// ServiceDesc and every method's FullMethod string.
const ServiceName = "fleetpulse.v1.TelemetryQuery"

// SnapshotRequest is Snapshot's request message.
type SnapshotRequest struct {
	VehicleIDs     []string `json:"vehicleIds"`
	IncludeMetrics bool     `json:"includeMetrics"`
}

// SnapshotResponse is Snapshot's response message.
type SnapshotResponse struct {
	Vehicles []query.VehicleState      `json:"vehicles"`
	Metrics  *query.OperationalMetrics `json:"metrics,omitempty"`
}

// LiveSnapshotRequest is LiveSnapshot's request message.
// A zero PollIntervalMs uses the server's configured default.
type LiveSnapshotRequest struct {
	VehicleIDs     []string `json:"vehicleIds"`
	PollIntervalMs int64    `json:"pollIntervalMs"`
}

// HistoryRequest is History's request message.
type HistoryRequest struct {
	VehicleIDs []string  `json:"vehicleIds"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Limit      int       `json:"limit"`
	PageToken  *int64    `json:"pageToken,omitempty"`
}

// AggregatesRequest is Aggregates's request message.
type AggregatesRequest struct {
	VehicleIDs    []string  `json:"vehicleIds"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	WindowSeconds int64     `json:"windowSeconds"`
}

// AggregatesResponse is Aggregates's response message.
type AggregatesResponse struct {
	Buckets       []store.RollupBucket `json:"buckets"`
	WindowSeconds int64                `json:"windowSeconds"`
}

// Handler implements the TelemetryQuery service against an
// internal/query.Service. It is registered with a *grpc.Server through
// ServiceDesc, e.g. `engine.RegisterService(&rpcapi.ServiceDesc, h)`.
type Handler struct {
	svc                 *query.Service
	defaultPollInterval time.Duration

	activeStreams atomic.Int64
}

// NewHandler builds a Handler. defaultPollInterval is used by
// LiveSnapshot when the caller supplies no PollIntervalMs.
func NewHandler(svc *query.Service, defaultPollInterval time.Duration) *Handler {
	if defaultPollInterval <= 0 {
		defaultPollInterval = time.Second
	}
	return &Handler{svc: svc, defaultPollInterval: defaultPollInterval}
}

// Snapshot returns the current fleet snapshot.
func (h *Handler) Snapshot(_ context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	snap := h.svc.FleetSnapshot(query.SnapshotFilter{
		VehicleIDs:     req.VehicleIDs,
		IncludeMetrics: req.IncludeMetrics,
	})
	return &SnapshotResponse{Vehicles: snap.Vehicles, Metrics: snap.Metrics}, nil
}

// Aggregates returns windowed rollup metrics for the requested range.
func (h *Handler) Aggregates(ctx context.Context, req *AggregatesRequest) (*AggregatesResponse, error) {
	buckets, windowSeconds, err := h.svc.Aggregates(ctx, query.AggregateFilter{
		VehicleIDs:    req.VehicleIDs,
		Start:         req.Start,
		End:           req.End,
		WindowSeconds: req.WindowSeconds,
	})
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &AggregatesResponse{Buckets: buckets, WindowSeconds: windowSeconds}, nil
}

// LiveSnapshot streams the fleet snapshot, then every changed-or-new
// vehicle as it is re-polled from the cache. grpc-go's own per-stream
// flow control already blocks SendMsg until the transport has drained,
// which is what pauses the poll loop under backpressure; there is no
// separate "not yet drained" signal to forward at this layer.
func (h *Handler) LiveSnapshot(req *LiveSnapshotRequest, stream grpc.ServerStream) error {
	return h.withStreamCount(stream, func() error {
		interval := time.Duration(req.PollIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = h.defaultPollInterval
		}

		err := h.svc.StreamLiveSnapshot(stream.Context(), interval, func(v query.VehicleState) (query.SendResult, error) {
			if len(req.VehicleIDs) > 0 && !contains(req.VehicleIDs, v.VehicleID) {
				return query.SendOK, nil
			}
			if err := stream.SendMsg(&v); err != nil {
				return query.SendOK, err
			}
			return query.SendOK, nil
		})
		return apperror.ToGRPC(err)
	})
}

// History streams one page of telemetry events in ascending time order,
// setting the next-page-token header if the page was truncated.
func (h *Handler) History(req *HistoryRequest, stream grpc.ServerStream) error {
	return h.withStreamCount(stream, func() error {
		events, next, err := h.svc.History(stream.Context(), query.HistoryFilter{
			VehicleIDs: req.VehicleIDs,
			Start:      req.Start,
			End:        req.End,
			Limit:      req.Limit,
			PageToken:  req.PageToken,
		})
		if err != nil {
			return apperror.ToGRPC(err)
		}

		if next != nil {
			_ = stream.SetHeader(metadata.Pairs("next-page-token", strconv.FormatInt(*next, 10)))
		}

		for i := range events {
			if err := stream.SendMsg(&events[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// withStreamCount publishes the active-stream-count header before
// running fn, and decrements the counter exactly once on return
// regardless of how fn exits. SetHeader buffers the metadata so the
// handler can still add per-call headers (History's next-page-token)
// before the first message flushes them.
func (h *Handler) withStreamCount(stream grpc.ServerStream, fn func() error) error {
	count := h.activeStreams.Add(1)
	defer h.activeStreams.Add(-1)

	_ = stream.SetHeader(metadata.Pairs("active-stream-count", strconv.FormatInt(count, 10)))

	return fn()
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
