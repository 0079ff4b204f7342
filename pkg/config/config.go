// Package config defines fleetpulse's structured configuration object.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration object for the fleetpulse service.
type Config struct {
	App         AppConfig          `koanf:"app"`
	Broker      BrokerConfig       `koanf:"broker"`
	HTTP        HTTPConfig         `koanf:"http"`
	GRPC        GRPCConfig         `koanf:"grpc"`
	Log         LogConfig          `koanf:"log"`
	Metrics     MetricsConfig      `koanf:"metrics"`
	Tracing     TracingConfig      `koanf:"tracing"`
	VehicleTTL  VehicleCacheConfig `koanf:"vehicle_cache"`
	TelemetryDB TelemetryDBConfig  `koanf:"telemetry_db"`
	QueryCache  QueryCacheConfig   `koanf:"query_cache"`
	RateLimit   RateLimitConfig    `koanf:"rate_limit"`
	Swagger     SwaggerConfig      `koanf:"swagger"`
	Report      ReportConfig       `koanf:"report"`
}

// AppConfig carries process-wide identity settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	Debug       bool   `koanf:"debug"`
}

// BrokerConfig configures the MQTT broker connection used for ingest.
type BrokerConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	UseTLS             bool          `koanf:"use_tls"`
	RejectUnauthorized bool          `koanf:"reject_unauthorized"`
	ClientID           string        `koanf:"client_id"`
	SubscriptionTopic  string        `koanf:"subscription_topic"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout"`
	KeepAlive          time.Duration `koanf:"keepalive"`
}

// Address returns the broker's tcp(s) URI.
func (b BrokerConfig) Address() string {
	scheme := "tcp"
	if b.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// HTTPConfig configures the plain HTTP query surface and live fan-out.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	StreamPath      string        `koanf:"stream_path"`
	PayloadVersion  int           `koanf:"payload_version"`
	CORS            CORSConfig    `koanf:"cors"`
}

// CORSConfig controls the permissive CORS policy applied to the HTTP surface.
type CORSConfig struct {
	Enabled        bool     `koanf:"enabled"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
	AllowedHeaders []string `koanf:"allowed_headers"`
}

// GRPCConfig configures the RPC query surface.
type GRPCConfig struct {
	Enabled           bool            `koanf:"enabled"`
	Host              string          `koanf:"host"`
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	StreamIntervalMs  int             `koanf:"stream_interval_ms"`
	StreamHeartbeatMs int             `koanf:"stream_heartbeat_ms"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
}

// KeepAliveConfig mirrors grpc/keepalive.ServerParameters.
type KeepAliveConfig struct {
	MaxConnectionIdle time.Duration `koanf:"max_connection_idle"`
	Time              time.Duration `koanf:"time"`
	Timeout           time.Duration `koanf:"timeout"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// VehicleCacheConfig configures the in-memory vehicle cache.
type VehicleCacheConfig struct {
	Limit int           `koanf:"limit"`
	TTL   time.Duration `koanf:"ttl"`
}

// TelemetryDBConfig configures the durable telemetry store.
type TelemetryDBConfig struct {
	Path                 string        `koanf:"path"`
	RollupWindowSeconds  int           `koanf:"rollup_window_seconds"`
	RollupWindows        []int         `koanf:"rollup_windows"`
	RollupIntervalMs     int           `koanf:"rollup_interval_ms"`
	RollupCatchUpWindows int           `koanf:"rollup_catch_up_windows"`
	MigrationsPath       string        `koanf:"migrations_path"`
	MessageWindowMs      int           `koanf:"message_window_ms"`
	BusyTimeout          time.Duration `koanf:"busy_timeout"`
}

// Windows returns the configured rollup window sizes, defaulting to
// RollupWindowSeconds alone when RollupWindows is empty.
func (t TelemetryDBConfig) Windows() []int {
	if len(t.RollupWindows) > 0 {
		return t.RollupWindows
	}
	if t.RollupWindowSeconds > 0 {
		return []int{t.RollupWindowSeconds}
	}
	return []int{300}
}

// QueryCacheConfig configures the short-TTL aggregate result cache.
type QueryCacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Backend    string        `koanf:"backend"` // memory, redis
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// Address returns the query cache backend address.
func (c QueryCacheConfig) Address() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// RateLimitConfig configures query-surface throttling (never applied to ingest).
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// SwaggerConfig configures the bundled OpenAPI/Swagger UI.
type SwaggerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Title   string `koanf:"title"`
}

// ReportConfig configures fleet report export.
type ReportConfig struct {
	MaxReportSizeBytes int64     `koanf:"max_report_size_bytes"`
	DefaultLanguage    string    `koanf:"default_language"`
	DefaultCurrency    string    `koanf:"default_currency"`
	DefaultTheme       string    `koanf:"default_theme"`
	MaxEventsInTable   int       `koanf:"max_events_in_table"`
	DefaultCompanyName string    `koanf:"default_company_name"`
	DefaultLogoURL     string    `koanf:"default_logo_url"`
	PDF                PDFConfig `koanf:"pdf"`
}

// PDFConfig configures maroto PDF rendering.
type PDFConfig struct {
	PageSize          string  `koanf:"page_size"`
	Orientation       string  `koanf:"orientation"`
	FontFamily        string  `koanf:"font_family"`
	FontSize          float64 `koanf:"font_size"`
	EnablePageNumbers bool    `koanf:"enable_page_numbers"`
}

// Validate rejects configurations that cannot safely start the service.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}
	if c.VehicleTTL.Limit <= 0 {
		errs = append(errs, "vehicle_cache.limit must be positive")
	}
	if c.TelemetryDB.Path == "" {
		errs = append(errs, "telemetry_db.path is required")
	}
	for _, w := range c.TelemetryDB.Windows() {
		if w <= 0 {
			errs = append(errs, "telemetry_db.rollup_windows must all be positive")
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDevelopment reports whether App.Environment names a development deployment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}
