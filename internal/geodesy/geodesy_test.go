package geodesy_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetpulse/internal/geodesy"
)

func TestHaversineKm_SamePointIsZero(t *testing.T) {
	p := geodesy.Point{Lat: 48.8566, Lng: 2.3522}
	assert.InDelta(t, 0, geodesy.HaversineKm(p, p), 1e-9)
}

func TestHaversineKm_ParisToParisSuburb(t *testing.T) {
	paris := geodesy.Point{Lat: 48.8566, Lng: 2.3522}
	nearby := geodesy.Point{Lat: 48.8666, Lng: 2.3622}

	d := geodesy.HaversineKm(paris, nearby)

	assert.Greater(t, d, 1.0)
	assert.Less(t, d, 2.0)
}

func TestBearingDegrees_Normalised(t *testing.T) {
	a := geodesy.Point{Lat: 0, Lng: 0}
	b := geodesy.Point{Lat: 1, Lng: 0}

	bearing := geodesy.BearingDegrees(a, b)

	assert.InDelta(t, 0, bearing, 1e-6)
	assert.GreaterOrEqual(t, bearing, 0.0)
	assert.Less(t, bearing, 360.0)
}

func TestTranslate_WrapsLongitude(t *testing.T) {
	origin := geodesy.Point{Lat: 0, Lng: 179.9}

	dest := geodesy.Translate(origin, 90, 50)

	assert.LessOrEqual(t, dest.Lng, 180.0)
	assert.Greater(t, dest.Lng, -180.0)
}

func TestTranslate_RoundTripApproximatesDistance(t *testing.T) {
	origin := geodesy.Point{Lat: 48.8566, Lng: 2.3522}
	dest := geodesy.Translate(origin, 45, 10)

	d := geodesy.HaversineKm(origin, dest)

	assert.InDelta(t, 10, d, 0.05)
}

func TestSpeedKmh_NonPositiveElapsedIsZero(t *testing.T) {
	a := geodesy.Point{Lat: 48.8566, Lng: 2.3522}
	b := geodesy.Point{Lat: 48.8666, Lng: 2.3622}

	assert.Equal(t, 0.0, geodesy.SpeedKmh(a, b, 0))
	assert.Equal(t, 0.0, geodesy.SpeedKmh(a, b, -1))
}

func TestSpeedKmh_MatchesHaversineOverElapsed(t *testing.T) {
	a := geodesy.Point{Lat: 48.8566, Lng: 2.3522}
	b := geodesy.Point{Lat: 48.8666, Lng: 2.3622}

	elapsedHours := 5.0 / 60.0
	want := geodesy.HaversineKm(a, b) / elapsedHours

	assert.InDelta(t, want, geodesy.SpeedKmh(a, b, elapsedHours), 1e-9*math.Max(1, want))
}
