package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordTelemetry_FirstEventHasZeroDistance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	event, err := s.RecordTelemetry(ctx, "veh-1", ts, ts, 48.8566, 2.3522, 0, 82.5, "running")

	require.NoError(t, err)
	assert.Equal(t, 0.0, event.DistanceKm)
	assert.Equal(t, int64(1), event.EventID)

	cumulative, err := s.CumulativeDistanceKm(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cumulative)
}

func TestRecordTelemetry_DistanceAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	_, err := s.RecordTelemetry(ctx, "veh-1", t1, t1, 48.8566, 2.3522, 0, 82.5, "running")
	require.NoError(t, err)

	event2, err := s.RecordTelemetry(ctx, "veh-1", t2, t2, 48.8666, 2.3622, 12.3, 54.4, "running")
	require.NoError(t, err)

	assert.Greater(t, event2.DistanceKm, 0.0)

	cumulative, err := s.CumulativeDistanceKm(ctx, "veh-1")
	require.NoError(t, err)
	assert.InDelta(t, event2.DistanceKm, cumulative, 1e-9)
}

func TestHistory_PaginationConcatenatesToFullSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		_, err := s.RecordTelemetry(ctx, "veh-1", ts, ts, 48.85+float64(i)*0.001, 2.35, 0, 80, "running")
		require.NoError(t, err)
	}

	var all []int64
	var token *int64
	for {
		page, next, err := s.History(ctx, store.HistoryFilter{Limit: 2, PageToken: token})
		require.NoError(t, err)
		for _, e := range page {
			all = append(all, e.EventID)
		}
		if next == nil {
			break
		}
		token = next
	}

	full, _, err := s.History(ctx, store.HistoryFilter{Limit: 100})
	require.NoError(t, err)

	require.Len(t, all, len(full))
	for i, e := range full {
		assert.Equal(t, e.EventID, all[i])
	}
}

func TestRunRollup_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 4 * time.Minute)
		_, err := s.RecordTelemetry(ctx, "veh-1", ts, ts, 48.85, 2.35+float64(i)*0.01, 10+float64(i), 90-float64(i), "running")
		require.NoError(t, err)
	}

	n1, err := s.RunRollup(ctx, 300, 1, true)
	require.NoError(t, err)
	assert.Greater(t, n1, 0)

	first, _, err := s.Aggregates(ctx, store.AggregateFilter{WindowSeconds: 300}, []int64{300})
	require.NoError(t, err)

	n2, err := s.RunRollup(ctx, 300, 1, true)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	second, _, err := s.Aggregates(ctx, store.AggregateFilter{WindowSeconds: 300}, []int64{300})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestAggregates_NonNativeWindowRecombines(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		_, err := s.RecordTelemetry(ctx, "veh-1", ts, ts, 48.85, 2.35, 10, 90, "running")
		require.NoError(t, err)
	}

	_, err := s.RunRollup(ctx, 60, 1, true)
	require.NoError(t, err)

	combined, usedWindow, err := s.Aggregates(ctx, store.AggregateFilter{WindowSeconds: 240}, []int64{60})
	require.NoError(t, err)
	assert.Equal(t, int64(240), usedWindow)
	require.Len(t, combined, 1)
	assert.Equal(t, int64(4), combined[0].SampleCount)
}
