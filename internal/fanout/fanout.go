// Package fanout implements the live push channel: on
// connect, every subscriber receives one snapshot message per cached
// vehicle, then joins the broadcast set for subsequent updates and
// removals. Slow subscribers are dropped rather than allowed to back up
// the broadcast.
package fanout

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

// PayloadVersion is the current wire version for both message kinds.
const PayloadVersion = 1

// DefaultBufferThresholdBytes is the default per-subscriber outbound
// buffer ceiling before it is considered slow and dropped.
const DefaultBufferThresholdBytes = 512 * 1024

// Position is the vehicle_update payload's position block.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Telemetry is the vehicle_update payload's telemetry block. Numeric
// fields marshal as null when not finite, never as NaN/Inf literals.
type Telemetry struct {
	Timestamp    time.Time `json:"timestamp"`
	Speed        NullFloat `json:"speed"`
	FuelLevel    NullFloat `json:"fuelLevel"`
	EngineStatus string    `json:"engineStatus"`
}

// Filters mirrors the telemetry fields a dashboard client filters on.
type Filters struct {
	EngineStatus string    `json:"engineStatus"`
	FuelLevel    NullFloat `json:"fuelLevel"`
}

// UpdateMessage is the vehicle_update frame.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Version   int       `json:"version"`
	VehicleID string    `json:"vehicleId"`
	Position  Position  `json:"position"`
	Telemetry Telemetry `json:"telemetry"`
	Filters   Filters   `json:"filters"`
	LastSeen  time.Time `json:"lastSeen"`
}

// RemoveMessage is the vehicle_remove frame.
type RemoveMessage struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	VehicleID string `json:"vehicleId"`
}

const (
	typeVehicleUpdate = "vehicle_update"
	typeVehicleRemove = "vehicle_remove"
)

// NullFloat marshals to a JSON number when Valid, null otherwise: the
// "finite numbers as numbers, otherwise null" rule.
type NullFloat struct {
	Value float64
	Valid bool
}

// Float builds a NullFloat, invalid for NaN/Inf.
func Float(v float64) NullFloat {
	return NullFloat{Value: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Snapshot is the subset of vehicle-cache state fanout needs to build a
// vehicle_update frame, decoupling this package from
// internal/vehiclecache.
type Snapshot struct {
	VehicleID    string
	Lat          float64
	Lng          float64
	Timestamp    time.Time
	Speed        float64
	FuelLevel    float64
	EngineStatus string
	LastSeen     time.Time
}

// SnapshotFunc returns every currently cached vehicle in cache iteration
// order (oldest first), for a newly connected subscriber.
type SnapshotFunc func() []Snapshot

func buildUpdate(s Snapshot) UpdateMessage {
	return UpdateMessage{
		Type:      typeVehicleUpdate,
		Version:   PayloadVersion,
		VehicleID: s.VehicleID,
		Position:  Position{Lat: s.Lat, Lng: s.Lng},
		Telemetry: Telemetry{
			Timestamp:    s.Timestamp,
			Speed:        Float(s.Speed),
			FuelLevel:    Float(s.FuelLevel),
			EngineStatus: s.EngineStatus,
		},
		Filters: Filters{
			EngineStatus: s.EngineStatus,
			FuelLevel:    Float(s.FuelLevel),
		},
		LastSeen: s.LastSeen,
	}
}

// subscriberQueueCapacity bounds the outbound message queue. It is large
// enough that normal bursts never hit it; the byte-size threshold check
// in enqueue is what actually enforces the backpressure policy.
const subscriberQueueCapacity = 4096

// subscriber is one attached live-stream connection. A dedicated writer
// goroutine drains queue sequentially, one write in flight at a time;
// bufferedBytes is the sum of queued-but-unwritten message sizes, the
// quantity the backpressure policy checks against threshold before
// enqueueing a new message.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}

	bufferedBytes atomic.Int64
	closed        atomic.Bool
	closeOnce     sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, subscriberQueueCapacity),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			s.bufferedBytes.Add(-int64(len(data)))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *subscriber) bufferDepth() int {
	return int(s.bufferedBytes.Load())
}

func (s *subscriber) isClosed() bool {
	return s.closed.Load()
}

// enqueue queues data for the writer goroutine. It returns false without
// queuing if the subscriber is closed or its queue is full; the caller
// treats either as a failed send and removes the subscriber.
func (s *subscriber) enqueue(data []byte) bool {
	if s.closed.Load() {
		return false
	}
	s.bufferedBytes.Add(int64(len(data)))
	select {
	case s.queue <- data:
		return true
	case <-s.done:
		s.bufferedBytes.Add(-int64(len(data)))
		return false
	default:
		s.bufferedBytes.Add(-int64(len(data)))
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub owns the set of live subscribers attached to the push channel.
// Neither the vehicle cache nor the ingest pipeline reaches into it
// directly; they call Broadcast/BroadcastRemove.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	bufferThresholdBytes int
	snapshot             SnapshotFunc
}

// Config controls a Hub's backpressure policy.
type Config struct {
	BufferThresholdBytes int
	CheckOrigin          func(*http.Request) bool
}

// New builds a Hub. snapshot is called once per new connection to render
// the initial per-vehicle update frames; it must not block.
func New(cfg Config, snapshot SnapshotFunc) *Hub {
	threshold := cfg.BufferThresholdBytes
	if threshold <= 0 {
		threshold = DefaultBufferThresholdBytes
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		upgrader:             websocket.Upgrader{CheckOrigin: checkOrigin},
		subscribers:          make(map[*subscriber]struct{}),
		bufferThresholdBytes: threshold,
		snapshot:             snapshot,
	}
}

// ServeHTTP upgrades the connection and attaches it as a subscriber,
// sending one snapshot message per cached vehicle before joining the
// broadcast set.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("fanout: websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(conn)

	for _, snap := range h.snapshot() {
		msg := buildUpdate(snap)
		data, merr := json.Marshal(msg)
		if merr != nil {
			continue
		}
		if !sub.enqueue(data) {
			sub.close()
			return
		}
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	h.setGauge()

	logger.Log.Debug("fanout: subscriber attached", "count", h.Count())

	// Drain and discard inbound frames; unknown message kinds from
	// subscribers are ignored, and reading keeps the connection's
	// control frames (ping/close) flowing.
	go h.readLoop(sub)
}

func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends an update frame to every attached subscriber, dropping
// any subscriber whose outbound buffer already exceeds the threshold or
// whose transport rejects the write.
func (h *Hub) Broadcast(s Snapshot) {
	msg := buildUpdate(s)
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Error("fanout: marshal update failed", "error", err)
		return
	}
	h.send(data, "update")
}

// BroadcastRemove sends a vehicle_remove frame, triggered by the vehicle
// cache's TTL-expiry callback.
func (h *Hub) BroadcastRemove(vehicleID string) {
	msg := RemoveMessage{Type: typeVehicleRemove, Version: PayloadVersion, VehicleID: vehicleID}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Error("fanout: marshal remove failed", "error", err)
		return
	}
	h.send(data, "remove")
}

func (h *Hub) send(data []byte, kind string) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var dropped []*subscriber

	for _, sub := range targets {
		if sub.isClosed() {
			dropped = append(dropped, sub)
			continue
		}
		if sub.bufferDepth() > h.bufferThresholdBytes {
			dropped = append(dropped, sub)
			if m := metrics.Get(); m != nil {
				m.FanoutDroppedTotal.WithLabelValues("backpressure").Inc()
			}
			continue
		}
		if !sub.enqueue(data) {
			dropped = append(dropped, sub)
			logger.Log.Warn("fanout: subscriber queue full, dropping", "kind", kind)
			if m := metrics.Get(); m != nil {
				m.FanoutDroppedTotal.WithLabelValues("transport_error").Inc()
			}
		}
	}

	for _, sub := range dropped {
		h.remove(sub)
	}

	if m := metrics.Get(); m != nil {
		m.FanoutBroadcastTotal.Inc()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, existed := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()

	if existed {
		sub.close()
		h.setGauge()
	}
}

// Count returns the current number of attached subscribers, surfaced on
// /stats and the RPC snapshot's connectedClients field.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close detaches and closes every subscriber, for graceful shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.setGauge()
}

func (h *Hub) setGauge() {
	if m := metrics.Get(); m != nil {
		m.FanoutSubscribers.Set(float64(h.Count()))
	}
}
