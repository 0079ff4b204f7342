// Package ingest drives the telemetry processing pipeline: decode,
// validate, derive speed, update the vehicle cache, persist, fan out.
// It is the sole mutator of the vehicle cache, the rate window, and the
// operational counters.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/geodesy"
	"fleetpulse/internal/ratewindow"
	"fleetpulse/internal/store"
	"fleetpulse/internal/validation"
	"fleetpulse/internal/vehiclecache"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

// StoreTimeout bounds how long a single RecordTelemetry call may take
// before the pipeline gives up and moves on; storage failure must never
// stop ingest or fan-out.
const StoreTimeout = 5 * time.Second

// Pipeline wires the broker's delivered payloads through validation,
// enrichment, the vehicle cache, the telemetry store, and the live
// fan-out hub.
type Pipeline struct {
	cache    *vehiclecache.Cache
	rate     *ratewindow.Window
	store    *store.Store
	hub      *fanout.Hub
	counters *counters.Operational
	nowFunc  func() time.Time
}

// New builds a Pipeline from its already-constructed collaborators and
// wires the cache's TTL-expiry callback to the fan-out hub: a vehicle
// that ages out of the cache must announce a vehicle_remove frame to
// every live subscriber. Only TTL expiry broadcasts a removal; capacity
// eviction stays silent.
func New(cache *vehiclecache.Cache, rate *ratewindow.Window, st *store.Store, hub *fanout.Hub, c *counters.Operational) *Pipeline {
	p := &Pipeline{cache: cache, rate: rate, store: st, hub: hub, counters: c, nowFunc: time.Now}

	if cache != nil {
		cache.SetRemovalCallback(func(id string, _ vehiclecache.Vehicle) {
			// CacheExpirationsTotal is incremented by the cache itself.
			if hub != nil {
				hub.BroadcastRemove(id)
			}
		})
	}

	return p
}

// Handle implements broker.Handler. It never returns an error and never
// panics: malformed or invalid payloads are counted and logged, storage
// failures are logged, and processing always continues to the next
// message.
func (p *Pipeline) Handle(topic string, payload []byte) error {
	var raw validation.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		p.rejectInvalid(topic, "decode", err)
		return nil
	}

	msg, verr := validation.Validate(raw)
	if verr != nil {
		p.rejectInvalid(topic, "validate", verr)
		return nil
	}

	p.counters.IncTotal()
	if m := metrics.Get(); m != nil {
		m.IngestMessagesTotal.WithLabelValues("accepted").Inc()
	}

	prev, hadPrev := p.cache.Get(msg.VehicleID)

	speed := 0.0
	if hadPrev && prev.RecordedAt.Before(msg.Timestamp) {
		elapsedHours := msg.Timestamp.Sub(prev.RecordedAt).Hours()
		speed = geodesy.SpeedKmh(
			geodesy.Point{Lat: prev.Lat, Lng: prev.Lng},
			geodesy.Point{Lat: msg.Lat, Lng: msg.Lng},
			elapsedHours,
		)
	}

	now := p.nowFunc()
	enriched := vehiclecache.Vehicle{
		VehicleID:    msg.VehicleID,
		Lat:          msg.Lat,
		Lng:          msg.Lng,
		SpeedKmh:     speed,
		FuelLevel:    msg.FuelLevel,
		EngineStatus: string(msg.EngineStatus),
		RecordedAt:   msg.Timestamp,
		LastSeen:     now,
	}

	p.cache.Set(msg.VehicleID, enriched)
	p.rate.Record(now.UnixMilli())

	if m := metrics.Get(); m != nil {
		m.IngestSpeedKMH.Observe(speed)
		m.CacheSize.Set(float64(p.cache.Len()))
	}

	p.persist(msg, speed, now)
	p.broadcast(enriched)

	return nil
}

func (p *Pipeline) rejectInvalid(topic, stage string, err error) {
	p.counters.IncInvalid()
	if m := metrics.Get(); m != nil {
		m.IngestMessagesTotal.WithLabelValues("invalid").Inc()
	}
	logger.Log.Warn("ingest: rejected message", "topic", topic, "stage", stage, "error", err)
}

// persist appends the event and updates the distance cache. A storage
// failure is logged at error level and otherwise swallowed: fan-out and
// the in-memory cache must stay consistent with the live stream even
// when the durable store is unavailable.
func (p *Pipeline) persist(msg validation.Normalised, speed float64, ingestAt time.Time) {
	if p.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), StoreTimeout)
	defer cancel()

	// RecordTelemetry records StoreEventsTotal itself; this call only
	// needs to log the failure.
	if _, err := p.store.RecordTelemetry(ctx, msg.VehicleID, msg.Timestamp, ingestAt,
		msg.Lat, msg.Lng, speed, msg.FuelLevel, string(msg.EngineStatus)); err != nil {
		logger.Log.Error("ingest: failed to persist telemetry event", "vehicle_id", msg.VehicleID, "error", err)
	}
}

func (p *Pipeline) broadcast(v vehiclecache.Vehicle) {
	if p.hub == nil {
		return
	}
	p.hub.Broadcast(fanout.Snapshot{
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
