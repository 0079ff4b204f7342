package fanout_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/fanout"
)

func dial(t *testing.T, srv *httptest.Server) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	snap := []fanout.Snapshot{
		{VehicleID: "veh-1", Lat: 1, Lng: 2, Speed: 10, FuelLevel: 50, EngineStatus: "running", LastSeen: time.Now()},
	}
	hub := fanout.New(fanout.Config{}, func() []fanout.Snapshot { return snap })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg fanout.UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "vehicle_update", msg.Type)
	assert.Equal(t, "veh-1", msg.VehicleID)
	assert.Equal(t, 1.0, msg.Position.Lat)
}

func TestHub_BroadcastUpdate(t *testing.T) {
	hub := fanout.New(fanout.Config{}, func() []fanout.Snapshot { return nil })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	hub.Broadcast(fanout.Snapshot{VehicleID: "veh-2", Lat: 5, Lng: 6, EngineStatus: "idle", LastSeen: time.Now()})

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg fanout.UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "veh-2", msg.VehicleID)
}

func TestHub_BroadcastRemove(t *testing.T) {
	hub := fanout.New(fanout.Config{}, func() []fanout.Snapshot { return nil })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	hub.BroadcastRemove("veh-3")

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg fanout.RemoveMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "vehicle_remove", msg.Type)
	assert.Equal(t, "veh-3", msg.VehicleID)
}

func TestHub_BackpressureDropsSlowSubscriber(t *testing.T) {
	hub := fanout.New(fanout.Config{BufferThresholdBytes: 1}, func() []fanout.Snapshot { return nil })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	// Large frames against a client that never reads: the writer stalls
	// once the socket buffers fill, queued bytes stay above the 1-byte
	// threshold, and the next broadcast drops the subscriber.
	bulky := strings.Repeat("x", 64*1024)
	for i := 0; i < 20 && hub.Count() > 0; i++ {
		hub.Broadcast(fanout.Snapshot{VehicleID: bulky, Lat: 1, Lng: 1, LastSeen: time.Now()})
	}

	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, time.Millisecond)
}

func TestHub_CloseDetachesAllSubscribers(t *testing.T) {
	hub := fanout.New(fanout.Config{}, func() []fanout.Snapshot { return nil })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Count())
}

func TestFloat_NonFiniteMarshalsNull(t *testing.T) {
	data, err := json.Marshal(fanout.Float(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	data, err = json.Marshal(fanout.Float(42.5))
	require.NoError(t, err)
	assert.Equal(t, "42.5", string(data))
}
