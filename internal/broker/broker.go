// Package broker subscribes to the upstream MQTT broker and delivers
// telemetry payloads to the ingest pipeline.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fleetpulse/pkg/config"
	"fleetpulse/pkg/logger"
)

// Handler processes one delivered payload for the given topic. It must
// never block on network I/O or panic; the subscriber logs and
// continues if it returns an error.
type Handler func(topic string, payload []byte) error

// Subscriber owns one MQTT client connection and topic subscription.
type Subscriber struct {
	client    mqtt.Client
	cfg       config.BrokerConfig
	handler   Handler
	connected atomic.Bool
}

// New builds a Subscriber; it does not connect until Start is called.
func New(cfg config.BrokerConfig, handler Handler) *Subscriber {
	s := &Subscriber{cfg: cfg, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Address())
	opts.SetClientID(clientID(cfg))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: !cfg.RejectUnauthorized})
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Log.Warn("broker reconnecting", "address", cfg.Address())
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func clientID(cfg config.BrokerConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return fmt.Sprintf("fleetpulse-%d", time.Now().UnixNano())
}

// Start connects to the broker and subscribes to cfg.SubscriptionTopic,
// blocking until the initial connection succeeds or ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("broker: connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	topic := s.cfg.SubscriptionTopic
	if topic == "" {
		topic = "fleet/+/telemetry"
	}
	subToken := s.client.Subscribe(topic, 1, s.onMessage)
	subToken.Wait()
	if err := subToken.Error(); err != nil {
		return fmt.Errorf("broker: subscribe %q: %w", topic, err)
	}

	logger.Log.Info("broker subscription active", "topic", topic, "address", s.cfg.Address())
	return nil
}

// Stop disconnects from the broker, waiting up to quiesce for in-flight
// acknowledgements to settle.
func (s *Subscriber) Stop(quiesce uint) {
	if s.client.IsConnected() {
		s.client.Disconnect(quiesce)
	}
	s.connected.Store(false)
}

// Connected reports whether the broker connection is currently up, for
// the /readyz readiness probe.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

func (s *Subscriber) onConnect(mqtt.Client) {
	s.connected.Store(true)
	logger.Log.Info("broker connected", "address", s.cfg.Address())
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	logger.Log.Warn("broker connection lost", "error", err)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handler(msg.Topic(), msg.Payload()); err != nil {
		logger.Log.Error("ingest handler error", "topic", msg.Topic(), "error", err)
	}
}
