// Package store implements the durable telemetry store: an
// append-only event log, a per-vehicle cumulative-distance cache, and a
// multi-window rollup table, all backed by SQLite through
// modernc.org/sqlite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"fleetpulse/internal/geodesy"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// TelemetryEvent is one persisted observation.
type TelemetryEvent struct {
	EventID      int64
	VehicleID    string
	RecordedAt   time.Time
	IngestAt     time.Time
	Lat          float64
	Lng          float64
	SpeedKmh     float64
	FuelLevel    float64
	EngineStatus string
	DistanceKm   float64
}

// RollupBucket is one precomputed aggregate bucket.
type RollupBucket struct {
	BucketStart   time.Time
	BucketEnd     time.Time
	VehicleID     string
	AvgSpeed      float64
	MaxSpeed      float64
	MinFuel       float64
	TotalDistance float64
	SampleCount   int64
}

// Store wraps a *sql.DB with fleetpulse's telemetry schema.
type Store struct {
	db *sql.DB
}

// Config controls how the store opens and migrates its database file.
type Config struct {
	Path string
}

// Open opens (creating if absent) the SQLite database at cfg.Path and
// applies every pending migration.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	// _time_format=sqlite stores time.Time columns in a layout SQLite's
	// own date functions (strftime in the rollup query) can parse.
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serialises writers; avoid SQLITE_BUSY under concurrent ingest+query.

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_migrations")
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Log.Info("telemetry store opened", "path", cfg.Path)
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTelemetry atomically upserts the vehicle row, appends one event
// row, and updates the distance cache in one transaction. distanceKm is
// the haversine distance from the vehicle's previous position, 0 if
// this is its first event.
func (s *Store) RecordTelemetry(ctx context.Context, vehicleID string, recordedAt, ingestAt time.Time, lat, lng, speedKmh, fuelLevel float64, engineStatus string) (event TelemetryEvent, err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.StoreEventsTotal.WithLabelValues(result).Inc()
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prevLat, prevLng sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT lat, lng FROM telemetry_events WHERE vehicle_id = ? ORDER BY event_id DESC LIMIT 1`,
		vehicleID,
	).Scan(&prevLat, &prevLng)

	var distanceKm float64
	switch {
	case errors.Is(err, sql.ErrNoRows):
		distanceKm = 0
	case err != nil:
		return TelemetryEvent{}, fmt.Errorf("lookup previous position: %w", err)
	default:
		distanceKm = geodesy.HaversineKm(
			geodesy.Point{Lat: prevLat.Float64, Lng: prevLng.Float64},
			geodesy.Point{Lat: lat, Lng: lng},
		)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vehicles (vehicle_id, first_seen_at, last_seen_at, last_lat, last_lng, last_engine_status, last_fuel_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			last_lat = excluded.last_lat,
			last_lng = excluded.last_lng,
			last_engine_status = excluded.last_engine_status,
			last_fuel_level = excluded.last_fuel_level`,
		vehicleID, ingestAt.UTC(), ingestAt.UTC(), lat, lng, engineStatus, fuelLevel,
	)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("upsert vehicle: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO telemetry_events
			(vehicle_id, recorded_at, ingest_at, lat, lng, speed_kmh, fuel_level, engine_status, distance_km)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vehicleID, recordedAt.UTC(), ingestAt.UTC(), lat, lng, speedKmh, fuelLevel, engineStatus, distanceKm,
	)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("insert event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("read inserted event id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO telemetry_distance_cache (vehicle_id, last_event_id, cumulative_km)
		VALUES (?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			last_event_id = excluded.last_event_id,
			cumulative_km = telemetry_distance_cache.cumulative_km + excluded.cumulative_km`,
		vehicleID, eventID, distanceKm,
	)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("update distance cache: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return TelemetryEvent{}, fmt.Errorf("commit: %w", err)
	}

	return TelemetryEvent{
		EventID:      eventID,
		VehicleID:    vehicleID,
		RecordedAt:   recordedAt,
		IngestAt:     ingestAt,
		Lat:          lat,
		Lng:          lng,
		SpeedKmh:     speedKmh,
		FuelLevel:    fuelLevel,
		EngineStatus: engineStatus,
		DistanceKm:   distanceKm,
	}, nil
}

// CumulativeDistanceKm returns the vehicle's running total distance, 0
// if it has no recorded events.
func (s *Store) CumulativeDistanceKm(ctx context.Context, vehicleID string) (float64, error) {
	var cumulative float64
	err := s.db.QueryRowContext(ctx,
		`SELECT cumulative_km FROM telemetry_distance_cache WHERE vehicle_id = ?`, vehicleID,
	).Scan(&cumulative)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cumulative, err
}

// HistoryFilter scopes a History query.
type HistoryFilter struct {
	VehicleIDs []string
	Start      time.Time
	End        time.Time
	Limit      int
	PageToken  *int64 // resume with event_id > PageToken
}

// History returns an ascending-time page of events plus the token for
// the next page (nil if this page is final).
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]TelemetryEvent, *int64, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `
		SELECT event_id, vehicle_id, recorded_at, ingest_at, lat, lng, speed_kmh, fuel_level, engine_status, distance_km
		FROM telemetry_events
		WHERE 1 = 1`
	var args []any

	if len(f.VehicleIDs) > 0 {
		query += " AND vehicle_id IN (" + placeholders(len(f.VehicleIDs)) + ")"
		for _, id := range f.VehicleIDs {
			args = append(args, id)
		}
	}
	if !f.Start.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		query += " AND recorded_at < ?"
		args = append(args, f.End.UTC())
	}
	if f.PageToken != nil {
		query += " AND event_id > ?"
		args = append(args, *f.PageToken)
	}

	query += " ORDER BY recorded_at ASC, event_id ASC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, nil, err
	}

	if len(events) < f.Limit {
		return events, nil, nil
	}
	next := events[len(events)-1].EventID
	return events, &next, nil
}

func scanEvents(rows *sql.Rows) ([]TelemetryEvent, error) {
	var events []TelemetryEvent
	for rows.Next() {
		var e TelemetryEvent
		if err := rows.Scan(&e.EventID, &e.VehicleID, &e.RecordedAt, &e.IngestAt, &e.Lat, &e.Lng, &e.SpeedKmh, &e.FuelLevel, &e.EngineStatus, &e.DistanceKm); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// OldestEventTime returns the recorded_at of the oldest event, or zero
// time if the store has no events yet.
func (s *Store) OldestEventTime(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(recorded_at) FROM telemetry_events`).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}
