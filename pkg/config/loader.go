package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FLEETPULSE_"

// defaults returns the baseline configuration values applied before any
// file or environment override is merged in.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"app.name":        "fleetpulse",
		"app.version":     "dev",
		"app.environment": "production",
		"app.debug":       false,

		"broker.host":                "localhost",
		"broker.port":                1883,
		"broker.use_tls":             false,
		"broker.reject_unauthorized": true,
		"broker.client_id":           "fleetpulsed",
		"broker.subscription_topic":  "fleet/+/telemetry",
		"broker.connect_timeout":     "10s",
		"broker.keepalive":           "30s",

		"http.port":                 8080,
		"http.read_timeout":         "10s",
		"http.write_timeout":        "10s",
		"http.shutdown_timeout":     "15s",
		"http.stream_path":          "/stream",
		"http.payload_version":      1,
		"http.cors.enabled":         true,
		"http.cors.allowed_origins": []string{"*"},
		"http.cors.allowed_methods": []string{"GET", "POST", "OPTIONS"},
		"http.cors.allowed_headers": []string{"Content-Type", "Authorization"},

		"grpc.enabled":                       true,
		"grpc.host":                          "0.0.0.0",
		"grpc.port":                          9090,
		"grpc.max_recv_msg_size":             4 << 20,
		"grpc.max_send_msg_size":             4 << 20,
		"grpc.stream_interval_ms":            1000,
		"grpc.stream_heartbeat_ms":           30000,
		"grpc.keepalive.max_connection_idle": "15m",
		"grpc.keepalive.time":                "5m",
		"grpc.keepalive.timeout":             "20s",

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     28,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9100,
		"metrics.path":      "/metrics",
		"metrics.namespace": "fleetpulse",

		"tracing.enabled":      false,
		"tracing.service_name": "fleetpulse",
		"tracing.sample_rate":  0.1,

		"vehicle_cache.limit": 1000,
		"vehicle_cache.ttl":   "60s",

		"telemetry_db.path":                   "data/fleetpulse.db",
		"telemetry_db.rollup_window_seconds":   300,
		"telemetry_db.rollup_windows":          []int{60, 300, 3600},
		"telemetry_db.rollup_interval_ms":      60000,
		"telemetry_db.rollup_catch_up_windows": 1,
		"telemetry_db.migrations_path":         "migrations",
		"telemetry_db.message_window_ms":       60000,
		"telemetry_db.busy_timeout":            "5s",

		"query_cache.enabled":     true,
		"query_cache.backend":     "memory",
		"query_cache.host":        "localhost",
		"query_cache.port":        6379,
		"query_cache.db":          0,
		"query_cache.default_ttl": "5s",
		"query_cache.max_entries": 1000,

		"rate_limit.enabled":          true,
		"rate_limit.requests":         100,
		"rate_limit.window":           "1m",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       20,
		"rate_limit.cleanup_interval": "1m",

		"swagger.enabled": true,
		"swagger.port":    8081,
		"swagger.title":   "FleetPulse API",

		"report.max_report_size_bytes": int64(25 << 20),
		"report.default_language":      "en",
		"report.default_currency":      "USD",
		"report.default_theme":         "light",
		"report.max_events_in_table":   500,
		"report.default_company_name":  "FleetPulse",
		"report.pdf.page_size":         "A4",
		"report.pdf.orientation":       "portrait",
		"report.pdf.font_family":       "helvetica",
		"report.pdf.font_size":         10.0,
		"report.pdf.enable_page_numbers": true,
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment variables prefixed with FLEETPULSE_, in that precedence
// order (later sources override earlier ones).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad calls Load and panics on error. Intended for use in main().
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
