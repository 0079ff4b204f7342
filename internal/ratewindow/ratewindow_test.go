package ratewindow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetpulse/internal/ratewindow"
)

func TestWindow_RateIsZeroWhenEmpty(t *testing.T) {
	w := ratewindow.New(1000)
	assert.Equal(t, 0.0, w.Rate(0))
}

func TestWindow_RecordsAndComputesRate(t *testing.T) {
	w := ratewindow.New(1000)

	for i := int64(0); i < 5; i++ {
		w.Record(i * 100)
	}

	assert.Equal(t, 5.0, w.Rate(500))
}

func TestWindow_TrimsOldArrivals(t *testing.T) {
	w := ratewindow.New(1000)

	w.Record(0)
	w.Record(500)
	w.Record(2000)

	assert.Equal(t, 1.0, w.Rate(2000))
}

func TestWindow_TrimIsIdempotent(t *testing.T) {
	w := ratewindow.New(1000)
	w.Record(0)

	first := w.Rate(2000)
	second := w.Rate(2000)

	assert.Equal(t, first, second)
	assert.Equal(t, 0.0, second)
}

func TestWindow_ZeroHorizonIsZeroRate(t *testing.T) {
	w := ratewindow.New(0)
	w.Record(0)

	assert.Equal(t, 0.0, w.Rate(0))
}
