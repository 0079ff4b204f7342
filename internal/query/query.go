// Package query implements the three read operations of the query
// surface: fleet snapshot, historical event pages, and live
// snapshot streaming. Both the HTTP and RPC surfaces (pkg/httpapi,
// internal/rpcapi) share this package so the two transports never
// diverge on semantics.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/ratewindow"
	"fleetpulse/internal/store"
	"fleetpulse/internal/validation"
	"fleetpulse/internal/vehiclecache"
	"fleetpulse/pkg/apperror"
	"fleetpulse/pkg/cache"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

// VehicleState is one vehicle's current enriched state, as returned by
// a fleet snapshot.
type VehicleState struct {
	VehicleID    string    `json:"vehicleId"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	SpeedKmh     float64   `json:"speedKmh"`
	FuelLevel    float64   `json:"fuelLevel"`
	EngineStatus string    `json:"engineStatus"`
	RecordedAt   time.Time `json:"recordedAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// OperationalMetrics is the optional metrics block a fleet snapshot may
// include.
type OperationalMetrics struct {
	TotalMessages     int64   `json:"totalMessages"`
	InvalidMessages   int64   `json:"invalidMessages"`
	ConnectedClients  int     `json:"connectedClients"`
	MessageRatePerSec float64 `json:"messageRatePerSec"`
	RateWindowSeconds float64 `json:"rateWindowSeconds"`
}

// FleetSnapshot is the result of a fleet-snapshot query.
type FleetSnapshot struct {
	Vehicles []VehicleState      `json:"vehicles"`
	Metrics  *OperationalMetrics `json:"metrics,omitempty"`
}

// SnapshotFilter scopes a fleet-snapshot query.
type SnapshotFilter struct {
	VehicleIDs     []string
	IncludeMetrics bool
}

// Service wires the vehicle cache, the rate window, the operational
// counters, the fan-out hub, and the telemetry store into the read
// operations both transports expose.
type Service struct {
	cache    *vehiclecache.Cache
	rate     *ratewindow.Window
	counters *counters.Operational
	hub      *fanout.Hub
	store    *store.Store

	resultCache cache.Cache
	resultTTL   time.Duration

	windows []int64

	activeStreams atomic.Int64
}

// Config controls the aggregate result cache. Windows lists the
// materialised rollup window sizes; New sorts them ascending.
// LivePollInterval is not read by New: StreamLiveSnapshot takes its poll
// interval as an argument.
type Config struct {
	ResultCache      cache.Cache
	ResultCacheTTL   time.Duration
	Windows          []int64
	LivePollInterval time.Duration
}

// New builds a Service from its collaborators and Config.
func New(vc *vehiclecache.Cache, rate *ratewindow.Window, c *counters.Operational, hub *fanout.Hub, st *store.Store, cfg Config) *Service {
	windows := append([]int64(nil), cfg.Windows...)
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })
	if len(windows) == 0 {
		windows = []int64{300}
	}

	ttl := cfg.ResultCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Service{
		cache:       vc,
		rate:        rate,
		counters:    c,
		hub:         hub,
		store:       st,
		resultCache: cfg.ResultCache,
		resultTTL:   ttl,
		windows:     windows,
	}
}

// ActiveLiveStreams returns the current number of open live-snapshot
// streams, surfaced as RPC metadata.
func (s *Service) ActiveLiveStreams() int64 { return s.activeStreams.Load() }

// FleetSnapshot returns the current enriched state of every vehicle
// matching f.VehicleIDs (all vehicles if empty), optionally attaching
// operational metrics.
func (s *Service) FleetSnapshot(f SnapshotFilter) FleetSnapshot {
	start := time.Now()
	defer observeQuery("fleet_snapshot", start)

	wanted := toSet(f.VehicleIDs)

	values := s.cache.Values()
	vehicles := make([]VehicleState, 0, len(values))
	for _, v := range values {
		if wanted != nil && !wanted[v.VehicleID] {
			continue
		}
		vehicles = append(vehicles, toVehicleState(v))
	}

	snap := FleetSnapshot{Vehicles: vehicles}
	if f.IncludeMetrics {
		total, invalid := s.counters.Snapshot()
		nowMs := time.Now().UnixMilli()
		snap.Metrics = &OperationalMetrics{
			TotalMessages:     total,
			InvalidMessages:   invalid,
			ConnectedClients:  s.hubCount(),
			MessageRatePerSec: s.rate.Rate(nowMs),
			RateWindowSeconds: s.rate.HorizonSeconds(),
		}
	}
	return snap
}

func (s *Service) hubCount() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.Count()
}

// HistoryFilter scopes a historical-event page query.
type HistoryFilter struct {
	VehicleIDs []string
	Start      time.Time
	End        time.Time
	Limit      int
	PageToken  *int64
}

// History returns one ascending-time page of telemetry events plus the
// continuation token for the next page, nil if this page is final.
// History pages are never cached: they must reflect the latest ingest.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]store.TelemetryEvent, *int64, error) {
	start := time.Now()
	defer observeQuery("history", start)

	if verr := validation.ValidateTimeRange(f.Start, f.End); verr != nil {
		return nil, nil, verr
	}
	if s.store == nil {
		return nil, nil, apperror.New(apperror.CodeInternal, "telemetry store unavailable")
	}

	events, next, err := s.store.History(ctx, store.HistoryFilter{
		VehicleIDs: f.VehicleIDs,
		Start:      f.Start,
		End:        f.End,
		Limit:      f.Limit,
		PageToken:  f.PageToken,
	})
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeInternal, "query history failed")
	}
	return events, next, nil
}

// AggregateFilter scopes a windowed-aggregate query.
type AggregateFilter struct {
	VehicleIDs    []string
	Start         time.Time
	End           time.Time
	WindowSeconds int64
}

// Aggregates returns bucketed metrics for f, memoizing the result for
// ResultCacheTTL under a key derived from the filter. The cache
// is bypassed entirely when no backend was configured.
func (s *Service) Aggregates(ctx context.Context, f AggregateFilter) ([]store.RollupBucket, int64, error) {
	start := time.Now()
	defer observeQuery("aggregates", start)

	if verr := validation.ValidateTimeRange(f.Start, f.End); verr != nil {
		return nil, 0, verr
	}
	if s.store == nil {
		return nil, 0, apperror.New(apperror.CodeInternal, "telemetry store unavailable")
	}

	key := aggregateCacheKey(f)

	if s.resultCache != nil {
		if cached, ok := s.lookupCache(ctx, key); ok {
			return cached.Buckets, cached.WindowSeconds, nil
		}
	}

	buckets, windowSeconds, err := s.store.Aggregates(ctx, store.AggregateFilter{
		VehicleIDs:    f.VehicleIDs,
		Start:         f.Start,
		End:           f.End,
		WindowSeconds: f.WindowSeconds,
	}, s.windows)
	if err != nil {
		return nil, 0, apperror.Wrap(err, apperror.CodeInternal, "query aggregates failed")
	}

	if s.resultCache != nil {
		s.storeCache(ctx, key, aggregateCacheEntry{Buckets: buckets, WindowSeconds: windowSeconds})
	}

	return buckets, windowSeconds, nil
}

type aggregateCacheEntry struct {
	Buckets       []store.RollupBucket `json:"buckets"`
	WindowSeconds int64                `json:"windowSeconds"`
}

func aggregateCacheKey(f AggregateFilter) string {
	ids := append([]string(nil), f.VehicleIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("aggregates:%s:%d:%d:%d",
		strings.Join(ids, ","), f.Start.UnixNano(), f.End.UnixNano(), f.WindowSeconds)
}

func (s *Service) lookupCache(ctx context.Context, key string) (aggregateCacheEntry, bool) {
	raw, err := s.resultCache.Get(ctx, key)
	m := metrics.Get()
	if err != nil {
		if m != nil {
			m.QueryCacheHits.WithLabelValues("miss").Inc()
		}
		return aggregateCacheEntry{}, false
	}
	var entry aggregateCacheEntry
	if jerr := json.Unmarshal(raw, &entry); jerr != nil {
		logger.Log.Warn("query: failed to decode cached aggregate result", "error", jerr)
		return aggregateCacheEntry{}, false
	}
	if m != nil {
		m.QueryCacheHits.WithLabelValues("hit").Inc()
	}
	return entry, true
}

func (s *Service) storeCache(ctx context.Context, key string, entry aggregateCacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.resultCache.Set(ctx, key, raw, s.resultTTL); err != nil {
		logger.Log.Warn("query: failed to store aggregate result in cache", "error", err)
	}
}

func observeQuery(op string, start time.Time) {
	if m := metrics.Get(); m != nil {
		m.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func toVehicleState(v vehiclecache.Vehicle) VehicleState {
	return VehicleState{
		VehicleID:    v.VehicleID,
		Lat:          v.Lat,
		Lng:          v.Lng,
		SpeedKmh:     v.SpeedKmh,
		FuelLevel:    v.FuelLevel,
		EngineStatus: v.EngineStatus,
		RecordedAt:   v.RecordedAt,
		LastSeen:     v.LastSeen,
	}
}
