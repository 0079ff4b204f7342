package query

import (
	"context"
	"time"
)

// SendResult reports whether a poller's send callback actually delivered
// a message to its transport.
type SendResult int

const (
	// SendOK means the message was accepted by the transport.
	SendOK SendResult = iota
	// SendNotDrained means the transport's outbound buffer is still
	// full; the poller retries the same message after drainBackoff
	// instead of advancing.
	SendNotDrained
)

// SendFunc delivers one changed-or-new vehicle to the live-stream
// transport. A non-nil error aborts the stream.
type SendFunc func(VehicleState) (SendResult, error)

// drainBackoff is the delay between retrying a message the transport
// reported as not yet drained.
const drainBackoff = 10 * time.Millisecond

// StreamLiveSnapshot re-polls the vehicle cache at pollInterval and
// invokes send for each vehicle whose lastSeen has changed since the
// last poll, after first sending every vehicle currently cached. It
// increments and decrements the active-stream counter exactly once for
// the stream's lifetime.
func (s *Service) StreamLiveSnapshot(ctx context.Context, pollInterval time.Duration, send SendFunc) error {
	s.activeStreams.Add(1)
	defer s.activeStreams.Add(-1)

	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	seen := make(map[string]time.Time)

	emit := func(v VehicleState) error {
		for {
			result, err := send(v)
			if err != nil {
				return err
			}
			if result == SendOK {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(drainBackoff):
			}
		}
	}

	for _, v := range s.cache.Values() {
		state := toVehicleState(v)
		if err := emit(state); err != nil {
			return err
		}
		seen[v.VehicleID] = v.LastSeen
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, v := range s.cache.Values() {
				last, ok := seen[v.VehicleID]
				if ok && !v.LastSeen.After(last) {
					continue
				}
				if err := emit(toVehicleState(v)); err != nil {
					return err
				}
				seen[v.VehicleID] = v.LastSeen
			}
		}
	}
}
