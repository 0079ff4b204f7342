package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/ingest"
	"fleetpulse/internal/ratewindow"
	"fleetpulse/internal/vehiclecache"
)

func newPipeline() (*ingest.Pipeline, *vehiclecache.Cache, *counters.Operational) {
	cache := vehiclecache.New(100, time.Hour)
	rate := ratewindow.New(60_000)
	cnt := &counters.Operational{}
	hub := fanout.New(fanout.Config{}, func() []fanout.Snapshot { return nil })
	return ingest.New(cache, rate, nil, hub, cnt), cache, cnt
}

func TestHandle_AcceptsValidMessage(t *testing.T) {
	p, cache, cnt := newPipeline()

	payload := []byte(`{"vehicleId":"veh-1","lat":1.0,"lng":2.0,"ts":"2026-07-31T10:00:00Z","fuelLevel":80,"engineStatus":"running"}`)
	require.NoError(t, p.Handle("fleet/veh-1/telemetry", payload))

	total, invalid := cnt.Snapshot()
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(0), invalid)

	v, ok := cache.Get("veh-1")
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Lat)
	assert.Equal(t, 0.0, v.SpeedKmh)
}

func TestHandle_RejectsInvalidMessage(t *testing.T) {
	p, _, cnt := newPipeline()

	payload := []byte(`{"vehicleId":"","lat":1.0,"lng":2.0,"ts":"2026-07-31T10:00:00Z","fuelLevel":80,"engineStatus":"running"}`)
	require.NoError(t, p.Handle("fleet/unknown/telemetry", payload))

	total, invalid := cnt.Snapshot()
	assert.Equal(t, int64(0), total)
	assert.Equal(t, int64(1), invalid)
}

func TestHandle_RejectsMalformedJSON(t *testing.T) {
	p, _, cnt := newPipeline()

	require.NoError(t, p.Handle("fleet/veh-1/telemetry", []byte(`not json`)))

	_, invalid := cnt.Snapshot()
	assert.Equal(t, int64(1), invalid)
}

func TestHandle_DerivesSpeedFromConsecutiveReports(t *testing.T) {
	p, cache, _ := newPipeline()

	first := []byte(`{"vehicleId":"veh-2","lat":0.0,"lng":0.0,"ts":"2026-07-31T10:00:00Z","fuelLevel":80,"engineStatus":"running"}`)
	require.NoError(t, p.Handle("fleet/veh-2/telemetry", first))

	second := []byte(`{"vehicleId":"veh-2","lat":0.0,"lng":1.0,"ts":"2026-07-31T11:00:00Z","fuelLevel":79,"engineStatus":"running"}`)
	require.NoError(t, p.Handle("fleet/veh-2/telemetry", second))

	v, ok := cache.Get("veh-2")
	require.True(t, ok)
	assert.Greater(t, v.SpeedKmh, 0.0)
}

func TestHandle_NilStoreDoesNotPanic(t *testing.T) {
	p, _, _ := newPipeline()

	payload := []byte(`{"vehicleId":"veh-3","lat":1.0,"lng":2.0,"ts":"2026-07-31T10:00:00Z","fuelLevel":50,"engineStatus":"idle"}`)
	assert.NotPanics(t, func() {
		require.NoError(t, p.Handle("fleet/veh-3/telemetry", payload))
	})
}
