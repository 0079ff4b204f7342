// Package validation implements structural and range checks for inbound
// telemetry messages.
package validation

import (
	"math"
	"strings"
	"time"

	"fleetpulse/pkg/apperror"
)

// EngineStatus is the normalised, lowercased engine state of a vehicle.
type EngineStatus string

const (
	EngineRunning EngineStatus = "running"
	EngineIdle    EngineStatus = "idle"
	EngineOff     EngineStatus = "off"
)

// RawMessage is the unvalidated shape of an inbound telemetry payload, as
// decoded from JSON.
type RawMessage struct {
	VehicleID    string  `json:"vehicleId"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Timestamp    string  `json:"ts"`
	FuelLevel    float64 `json:"fuelLevel"`
	EngineStatus string  `json:"engineStatus"`
}

// Normalised is a RawMessage that has passed every check in Validate: the
// vehicle id is trimmed, the engine status is lowercased, and the
// timestamp has been parsed to an absolute instant.
type Normalised struct {
	VehicleID    string
	Lat          float64
	Lng          float64
	Timestamp    time.Time
	FuelLevel    float64
	EngineStatus EngineStatus
}

// Validate checks raw against the required ranges and shapes,
// returning the normalised record on success or an *apperror.Error
// describing the first violation found.
func Validate(raw RawMessage) (Normalised, *apperror.Error) {
	vehicleID := strings.TrimSpace(raw.VehicleID)
	if vehicleID == "" {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeMissingVehicleID, "vehicleId is absent or empty", "vehicleId")
	}

	if !isFiniteInRange(raw.Lat, -90, 90) {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeInvalidLatitude, "lat must be a finite number in [-90, 90]", "lat")
	}

	if !isFiniteInRange(raw.Lng, -180, 180) {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeInvalidLongitude, "lng must be a finite number in [-180, 180]", "lng")
	}

	if !isFiniteInRange(raw.FuelLevel, 0, 100) {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeInvalidFuelLevel, "fuelLevel must be a finite number in [0, 100]", "fuelLevel")
	}

	status, ok := normaliseEngineStatus(raw.EngineStatus)
	if !ok {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeInvalidEngineState, "engineStatus must be one of running, idle, off", "engineStatus")
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return Normalised{}, apperror.NewWithField(
			apperror.CodeInvalidTimestamp, "timestamp is not a parseable instant", "ts")
	}

	return Normalised{
		VehicleID:    vehicleID,
		Lat:          raw.Lat,
		Lng:          raw.Lng,
		Timestamp:    ts,
		FuelLevel:    raw.FuelLevel,
		EngineStatus: status,
	}, nil
}

func isFiniteInRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= lo && v <= hi
}

func normaliseEngineStatus(s string) (EngineStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(EngineRunning):
		return EngineRunning, true
	case string(EngineIdle):
		return EngineIdle, true
	case string(EngineOff):
		return EngineOff, true
	default:
		return "", false
	}
}

// parseTimestamp accepts RFC3339 (with or without fractional seconds),
// which covers every ISO-8601 instant the upstream producers emit.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339Nano, Value: s}
}

// ValidateTimeRange rejects a caller-supplied query time range:
// invalid-argument if start is not before end. A zero start or end means
// "unbounded" and is always valid on that side.
func ValidateTimeRange(start, end time.Time) *apperror.Error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if !start.Before(end) {
		return apperror.New(apperror.CodeInvalidTimeRange, "start must be before end")
	}
	return nil
}
