package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleetpulse/internal/broker"
	"fleetpulse/pkg/config"
)

func TestNew_NotConnectedUntilStart(t *testing.T) {
	cfg := config.BrokerConfig{
		Host:              "localhost",
		Port:              1883,
		SubscriptionTopic: "fleet/+/telemetry",
	}
	s := broker.New(cfg, func(topic string, payload []byte) error { return nil })
	assert.False(t, s.Connected())
}

func TestNew_WithoutClientIDNotConnected(t *testing.T) {
	cfg := config.BrokerConfig{Host: "localhost", Port: 1883}
	s1 := broker.New(cfg, func(string, []byte) error { return nil })
	time.Sleep(time.Millisecond)
	s2 := broker.New(cfg, func(string, []byte) error { return nil })

	assert.False(t, s1.Connected())
	assert.False(t, s2.Connected())
}

func TestStop_NoopWhenNeverConnected(t *testing.T) {
	cfg := config.BrokerConfig{Host: "localhost", Port: 1883}
	s := broker.New(cfg, func(string, []byte) error { return nil })
	assert.NotPanics(t, func() { s.Stop(250) })
}
