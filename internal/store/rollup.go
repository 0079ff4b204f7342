package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

// RunRollup computes rollup buckets for windowSeconds from the last
// processed point forward.
//
// catchUpWindows bounds how far back a normal run reaches past the last
// processed point; force=true bypasses that bound and recomputes from
// the oldest event, guaranteeing the same rows a from-scratch run would
// produce.
func (s *Store) RunRollup(ctx context.Context, windowSeconds int64, catchUpWindows int, force bool) (bucketsWritten int, err error) {
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("rollup: windowSeconds must be positive")
	}

	start := time.Now()
	defer func() {
		if m := metrics.Get(); m != nil {
			m.StoreRollupDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := time.Now().UTC()
	alignedEnd := alignFloor(now, windowSeconds)

	oldest, err := s.OldestEventTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("find oldest event: %w", err)
	}
	if oldest.IsZero() {
		return 0, nil // nothing recorded yet
	}
	oldestAligned := alignFloor(oldest, windowSeconds)

	var alignedStart time.Time
	if force {
		alignedStart = oldestAligned
	} else {
		lastEnd, ok, perr := s.getRollupProgress(ctx, windowSeconds)
		if perr != nil {
			return 0, fmt.Errorf("read rollup progress: %w", perr)
		}
		if !ok {
			alignedStart = oldestAligned
		} else {
			alignedStart = lastEnd.Add(-time.Duration(catchUpWindows) * time.Duration(windowSeconds) * time.Second)
			if alignedStart.Before(oldestAligned) {
				alignedStart = oldestAligned
			}
		}
	}

	if !alignedStart.Before(alignedEnd) {
		return 0, nil
	}

	buckets, err := s.aggregateEvents(ctx, alignedStart, alignedEnd, windowSeconds)
	if err != nil {
		return 0, fmt.Errorf("aggregate events: %w", err)
	}

	for _, b := range buckets {
		if err := s.upsertRollup(ctx, b); err != nil {
			return 0, fmt.Errorf("upsert rollup bucket: %w", err)
		}
	}

	if err := s.setRollupProgress(ctx, windowSeconds, alignedEnd); err != nil {
		return 0, fmt.Errorf("save rollup progress: %w", err)
	}

	if m := metrics.Get(); m != nil {
		m.StoreRollupBucketsWritten.Add(float64(len(buckets)))
	}
	logger.Log.Debug("rollup computed", "window_seconds", windowSeconds, "buckets", len(buckets), "force", force)

	return len(buckets), nil
}

func alignFloor(t time.Time, windowSeconds int64) time.Time {
	epoch := t.Unix()
	aligned := (epoch / windowSeconds) * windowSeconds
	return time.Unix(aligned, 0).UTC()
}

func (s *Store) aggregateEvents(ctx context.Context, start, end time.Time, windowSeconds int64) ([]RollupBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			vehicle_id,
			(CAST(strftime('%s', recorded_at) AS INTEGER) / ?) * ? AS bucket_start,
			AVG(speed_kmh),
			MAX(speed_kmh),
			MIN(fuel_level),
			SUM(distance_km),
			COUNT(*)
		FROM telemetry_events
		WHERE recorded_at >= ? AND recorded_at < ?
		GROUP BY vehicle_id, bucket_start
		ORDER BY bucket_start ASC`,
		windowSeconds, windowSeconds, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []RollupBucket
	for rows.Next() {
		var b RollupBucket
		var bucketStartEpoch int64
		if err := rows.Scan(&b.VehicleID, &bucketStartEpoch, &b.AvgSpeed, &b.MaxSpeed, &b.MinFuel, &b.TotalDistance, &b.SampleCount); err != nil {
			return nil, err
		}
		b.BucketStart = time.Unix(bucketStartEpoch, 0).UTC()
		b.BucketEnd = b.BucketStart.Add(time.Duration(windowSeconds) * time.Second)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (s *Store) upsertRollup(ctx context.Context, b RollupBucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_rollups
			(bucket_start, bucket_end, vehicle_id, avg_speed, max_speed, min_fuel, total_distance, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket_start, bucket_end, vehicle_id) DO UPDATE SET
			avg_speed = excluded.avg_speed,
			max_speed = excluded.max_speed,
			min_fuel = excluded.min_fuel,
			total_distance = excluded.total_distance,
			sample_count = excluded.sample_count`,
		b.BucketStart.Unix(), b.BucketEnd.Unix(), b.VehicleID,
		b.AvgSpeed, b.MaxSpeed, b.MinFuel, b.TotalDistance, b.SampleCount,
	)
	return err
}

func (s *Store) getRollupProgress(ctx context.Context, windowSeconds int64) (time.Time, bool, error) {
	var lastEnd int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_processed_end FROM rollup_progress WHERE window_seconds = ?`, windowSeconds,
	).Scan(&lastEnd)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(lastEnd, 0).UTC(), true, nil
}

func (s *Store) setRollupProgress(ctx context.Context, windowSeconds int64, end time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollup_progress (window_seconds, last_processed_end)
		VALUES (?, ?)
		ON CONFLICT (window_seconds) DO UPDATE SET last_processed_end = excluded.last_processed_end`,
		windowSeconds, end.Unix(),
	)
	return err
}

// AggregateFilter scopes an Aggregates query.
type AggregateFilter struct {
	VehicleIDs    []string
	Start         time.Time
	End           time.Time
	WindowSeconds int64
}

// Aggregates returns bucketed metrics for f.WindowSeconds. A window
// that is materialised is read directly; otherwise rows from the
// smallest materialised window that divides it are recombined, with
// avgSpeed weighted by sampleCount and min/max/sum taken directly. If
// no materialised window divides the request, the base window is used
// and the caller's window is raised to match. materialisedWindows must
// be sorted ascending.
func (s *Store) Aggregates(ctx context.Context, f AggregateFilter, materialisedWindows []int64) ([]RollupBucket, int64, error) {
	base := resolveWindow(f.WindowSeconds, materialisedWindows)
	if base == 0 {
		base = materialisedWindows[0]
		f.WindowSeconds = base
	}

	rows, err := s.queryRollupRows(ctx, f, base)
	if err != nil {
		return nil, 0, err
	}

	if base == f.WindowSeconds {
		return rows, f.WindowSeconds, nil
	}

	return recombine(rows, f.WindowSeconds), f.WindowSeconds, nil
}

func (s *Store) queryRollupRows(ctx context.Context, f AggregateFilter, windowSeconds int64) ([]RollupBucket, error) {
	query := `
		SELECT bucket_start, bucket_end, vehicle_id, avg_speed, max_speed, min_fuel, total_distance, sample_count
		FROM telemetry_rollups
		WHERE bucket_end - bucket_start = ?`
	args := []any{windowSeconds}

	if len(f.VehicleIDs) > 0 {
		query += " AND vehicle_id IN (" + placeholders(len(f.VehicleIDs)) + ")"
		for _, id := range f.VehicleIDs {
			args = append(args, id)
		}
	}
	if !f.Start.IsZero() {
		query += " AND bucket_start >= ?"
		args = append(args, f.Start.Unix())
	}
	if !f.End.IsZero() {
		query += " AND bucket_end <= ?"
		args = append(args, f.End.Unix())
	}
	query += " ORDER BY bucket_start ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RollupBucket
	for rows.Next() {
		var b RollupBucket
		var startEpoch, endEpoch int64
		if err := rows.Scan(&startEpoch, &endEpoch, &b.VehicleID, &b.AvgSpeed, &b.MaxSpeed, &b.MinFuel, &b.TotalDistance, &b.SampleCount); err != nil {
			return nil, err
		}
		b.BucketStart = time.Unix(startEpoch, 0).UTC()
		b.BucketEnd = time.Unix(endEpoch, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// resolveWindow picks the materialised window backing a request for
// want: want itself when materialised, else the smallest materialised
// window dividing it, else 0.
func resolveWindow(want int64, materialised []int64) int64 {
	for _, w := range materialised {
		if w == want {
			return w
		}
	}
	for _, w := range materialised {
		if want%w == 0 {
			return w
		}
	}
	return 0
}

// recombine groups base-window rollup rows into wider windowSeconds
// buckets, recomputing avgSpeed as a sample-weighted average and taking
// min/max/sum directly.
func recombine(rows []RollupBucket, windowSeconds int64) []RollupBucket {
	type acc struct {
		bucketStart   time.Time
		weightedSpeed float64
		maxSpeed      float64
		minFuel       float64
		totalDistance float64
		sampleCount   int64
		vehicleID     string
	}

	grouped := make(map[string]*acc)
	var order []string

	for _, r := range rows {
		bucketStart := alignFloor(r.BucketStart, windowSeconds)
		key := r.VehicleID + "|" + bucketStart.Format(time.RFC3339)

		a, ok := grouped[key]
		if !ok {
			a = &acc{bucketStart: bucketStart, vehicleID: r.VehicleID, minFuel: r.MinFuel, maxSpeed: r.MaxSpeed}
			grouped[key] = a
			order = append(order, key)
		}

		a.weightedSpeed += r.AvgSpeed * float64(r.SampleCount)
		a.sampleCount += r.SampleCount
		a.totalDistance += r.TotalDistance
		if r.MaxSpeed > a.maxSpeed {
			a.maxSpeed = r.MaxSpeed
		}
		if r.MinFuel < a.minFuel {
			a.minFuel = r.MinFuel
		}
	}

	out := make([]RollupBucket, 0, len(order))
	for _, key := range order {
		a := grouped[key]
		avg := 0.0
		if a.sampleCount > 0 {
			avg = a.weightedSpeed / float64(a.sampleCount)
		}
		out = append(out, RollupBucket{
			BucketStart:   a.bucketStart,
			BucketEnd:     a.bucketStart.Add(time.Duration(windowSeconds) * time.Second),
			VehicleID:     a.vehicleID,
			AvgSpeed:      avg,
			MaxSpeed:      a.maxSpeed,
			MinFuel:       a.minFuel,
			TotalDistance: a.totalDistance,
			SampleCount:   a.sampleCount,
		})
	}
	return out
}
