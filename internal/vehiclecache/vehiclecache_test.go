package vehiclecache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/vehiclecache"
)

func vehicle(id string, lastSeen time.Time) vehiclecache.Vehicle {
	return vehiclecache.Vehicle{VehicleID: id, Lat: 1, Lng: 2, LastSeen: lastSeen}
}

func TestCache_SetAndGet(t *testing.T) {
	c := vehiclecache.New(10, 0)

	c.Set("veh-1", vehicle("veh-1", time.Now()))

	v, ok := c.Get("veh-1")
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Lat)
}

func TestCache_GetAbsent(t *testing.T) {
	c := vehiclecache.New(10, 0)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_CapacityEviction(t *testing.T) {
	c := vehiclecache.New(2, 0)

	c.Set("veh-1", vehicle("veh-1", time.Now()))
	c.Set("veh-2", vehicle("veh-2", time.Now()))
	c.Set("veh-3", vehicle("veh-3", time.Now()))

	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("veh-1")
	assert.False(t, ok, "earliest entry should have been evicted")

	_, ok = c.Get("veh-3")
	assert.True(t, ok)
}

func TestCache_SetMovesToMostRecent(t *testing.T) {
	c := vehiclecache.New(3, 0)

	c.Set("veh-1", vehicle("veh-1", time.Now()))
	c.Set("veh-2", vehicle("veh-2", time.Now()))
	c.Set("veh-1", vehicle("veh-1", time.Now()))

	values := c.Values()
	require.Len(t, values, 2)
	// veh-1 was re-inserted last, so it comes last in insertion order.
	assert.Equal(t, "veh-1", values[len(values)-1].VehicleID)
}

func TestCache_Delete(t *testing.T) {
	c := vehiclecache.New(10, 0)
	c.Set("veh-1", vehicle("veh-1", time.Now()))

	c.Delete("veh-1")

	_, ok := c.Get("veh-1")
	assert.False(t, ok)
}

func TestCache_ValuesOldestFirst(t *testing.T) {
	c := vehiclecache.New(10, 0)

	c.Set("veh-1", vehicle("veh-1", time.Now()))
	c.Set("veh-2", vehicle("veh-2", time.Now()))
	c.Set("veh-3", vehicle("veh-3", time.Now()))

	values := c.Values()
	require.Len(t, values, 3)
	assert.Equal(t, []string{"veh-1", "veh-2", "veh-3"}, []string{values[0].VehicleID, values[1].VehicleID, values[2].VehicleID})
}

func TestCache_TTLSweepRemovesStaleAndInvokesCallback(t *testing.T) {
	c := vehiclecache.New(10, 50*time.Millisecond)

	var mu sync.Mutex
	var removed []string
	c.SetRemovalCallback(func(id string, _ vehiclecache.Vehicle) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
	})

	stale := vehicle("stale", time.Now().Add(-60*time.Millisecond))
	c.Set("stale", stale)
	c.Set("fresh", vehicle("fresh", time.Now()))

	c.Sweep(time.Now())

	_, staleOK := c.Get("stale")
	require.False(t, staleOK)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, removed, "stale")
	assert.NotContains(t, removed, "fresh")

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCache_RemovalCallbackPanicIsRecovered(t *testing.T) {
	c := vehiclecache.New(10, 20*time.Millisecond)
	c.SetRemovalCallback(func(string, vehiclecache.Vehicle) {
		panic("boom")
	})

	c.Set("veh-1", vehicle("veh-1", time.Now().Add(-30*time.Millisecond)))

	assert.NotPanics(t, func() {
		c.Sweep(time.Now())
	})
}
