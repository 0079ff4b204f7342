package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/query"
	"fleetpulse/internal/ratewindow"
	"fleetpulse/internal/vehiclecache"
	"fleetpulse/pkg/cache"
)

func newService(t *testing.T) (*query.Service, *vehiclecache.Cache) {
	t.Helper()
	vc := vehiclecache.New(100, time.Hour)
	rate := ratewindow.New(60_000)
	cnt := &counters.Operational{}

	c, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	svc := query.New(vc, rate, cnt, nil, nil, query.Config{ResultCache: c, Windows: []int64{300}})
	return svc, vc
}

func TestFleetSnapshot_FiltersByVehicleID(t *testing.T) {
	svc, vc := newService(t)

	vc.Set("veh-1", vehiclecache.Vehicle{VehicleID: "veh-1", Lat: 1, Lng: 2, LastSeen: time.Now()})
	vc.Set("veh-2", vehiclecache.Vehicle{VehicleID: "veh-2", Lat: 3, Lng: 4, LastSeen: time.Now()})

	snap := svc.FleetSnapshot(query.SnapshotFilter{VehicleIDs: []string{"veh-1"}})
	require.Len(t, snap.Vehicles, 1)
	assert.Equal(t, "veh-1", snap.Vehicles[0].VehicleID)
	assert.Nil(t, snap.Metrics)
}

func TestFleetSnapshot_IncludesMetricsWhenRequested(t *testing.T) {
	svc, vc := newService(t)
	vc.Set("veh-1", vehiclecache.Vehicle{VehicleID: "veh-1", LastSeen: time.Now()})

	snap := svc.FleetSnapshot(query.SnapshotFilter{IncludeMetrics: true})
	require.NotNil(t, snap.Metrics)
	assert.GreaterOrEqual(t, snap.Metrics.RateWindowSeconds, 0.0)
}

func TestHistory_RejectsInvalidTimeRange(t *testing.T) {
	svc, _ := newService(t)

	now := time.Now()
	_, _, err := svc.History(context.Background(), query.HistoryFilter{Start: now, End: now.Add(-time.Hour)})
	require.Error(t, err)
}

func TestStreamLiveSnapshot_EmitsInitialCacheThenStops(t *testing.T) {
	svc, vc := newService(t)
	vc.Set("veh-1", vehiclecache.Vehicle{VehicleID: "veh-1", LastSeen: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())

	var received []query.VehicleState
	err := svc.StreamLiveSnapshot(ctx, time.Millisecond, func(v query.VehicleState) (query.SendResult, error) {
		received = append(received, v)
		cancel()
		return query.SendOK, nil
	})

	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "veh-1", received[0].VehicleID)
}

func TestStreamLiveSnapshot_RetriesOnNotDrained(t *testing.T) {
	svc, vc := newService(t)
	vc.Set("veh-1", vehiclecache.Vehicle{VehicleID: "veh-1", LastSeen: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := svc.StreamLiveSnapshot(ctx, time.Millisecond, func(v query.VehicleState) (query.SendResult, error) {
		attempts++
		if attempts < 3 {
			return query.SendNotDrained, nil
		}
		cancel()
		return query.SendOK, nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 3)
}
