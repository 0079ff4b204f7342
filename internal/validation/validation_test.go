package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpulse/internal/validation"
	"fleetpulse/pkg/apperror"
)

func validRaw() validation.RawMessage {
	return validation.RawMessage{
		VehicleID:    "veh-1",
		Lat:          48.8566,
		Lng:          2.3522,
		Timestamp:    "2024-01-01T00:00:00.000Z",
		FuelLevel:    82.5,
		EngineStatus: "RUNNING",
	}
}

func TestValidate_Success(t *testing.T) {
	norm, err := validation.Validate(validRaw())

	require.Nil(t, err)
	assert.Equal(t, "veh-1", norm.VehicleID)
	assert.Equal(t, validation.EngineRunning, norm.EngineStatus)
	assert.Equal(t, 2024, norm.Timestamp.Year())
}

func TestValidate_EmptyVehicleID(t *testing.T) {
	raw := validRaw()
	raw.VehicleID = "   "

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeMissingVehicleID, err.Code)
}

func TestValidate_LatitudeOutOfRange(t *testing.T) {
	raw := validRaw()
	raw.Lat = 91

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidLatitude, err.Code)
}

func TestValidate_LongitudeOutOfRange(t *testing.T) {
	raw := validRaw()
	raw.Lng = -181

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidLongitude, err.Code)
}

func TestValidate_FuelLevelOutOfRange(t *testing.T) {
	raw := validRaw()
	raw.FuelLevel = 101

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidFuelLevel, err.Code)
}

func TestValidate_UnknownEngineStatus(t *testing.T) {
	raw := validRaw()
	raw.EngineStatus = "flying"

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidEngineState, err.Code)
}

func TestValidate_UnparseableTimestamp(t *testing.T) {
	raw := validRaw()
	raw.Timestamp = "not-a-date"

	_, err := validation.Validate(raw)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidTimestamp, err.Code)
}

func TestValidateTimeRange_RejectsStartAfterEnd(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := validation.ValidateTimeRange(start, end)

	require.NotNil(t, err)
	assert.Equal(t, apperror.CodeInvalidTimeRange, err.Code)
}

func TestValidateTimeRange_AllowsUnbounded(t *testing.T) {
	assert.Nil(t, validation.ValidateTimeRange(time.Time{}, time.Time{}))
}
