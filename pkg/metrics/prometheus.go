// Package metrics exposes the Prometheus counters, histograms, and gauges
// fleetpulse's subsystems report against.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics container.
type Metrics struct {
	IngestMessagesTotal *prometheus.CounterVec
	IngestSpeedKMH      prometheus.Histogram

	CacheSize             prometheus.Gauge
	CacheEvictionsTotal   prometheus.Counter
	CacheExpirationsTotal prometheus.Counter

	StoreEventsTotal          *prometheus.CounterVec
	StoreRollupDuration       prometheus.Histogram
	StoreRollupBucketsWritten prometheus.Counter

	FanoutSubscribers    prometheus.Gauge
	FanoutDroppedTotal   *prometheus.CounterVec
	FanoutBroadcastTotal prometheus.Counter

	QueryDuration  *prometheus.HistogramVec
	QueryCacheHits *prometheus.CounterVec

	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	ReportGeneratedTotal *prometheus.CounterVec

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics constructs and registers the metrics container under the
// given namespace.
func InitMetrics(namespace string) *Metrics {
	m := &Metrics{
		IngestMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_messages_total",
				Help:      "Total number of telemetry messages received from the broker, by processing result.",
			},
			[]string{"result"},
		),
		IngestSpeedKMH: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_speed_kmh",
				Help:      "Reported vehicle speed in km/h for accepted telemetry messages.",
				Buckets:   []float64{0, 5, 10, 20, 40, 60, 80, 100, 120, 160, 200},
			},
		),

		CacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_size",
				Help:      "Current number of vehicles tracked in the in-memory cache.",
			},
		),
		CacheEvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of vehicles evicted from the cache to satisfy its capacity limit.",
			},
		),
		CacheExpirationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_expirations_total",
				Help:      "Total number of vehicles removed from the cache after their TTL elapsed.",
			},
		),

		StoreEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_events_total",
				Help:      "Total number of telemetry events persisted, by outcome.",
			},
			[]string{"result"},
		),
		StoreRollupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_rollup_duration_seconds",
				Help:      "Duration of a rollup computation pass.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		StoreRollupBucketsWritten: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_rollup_buckets_written_total",
				Help:      "Total number of rollup buckets written or updated.",
			},
		),

		FanoutSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fanout_subscribers",
				Help:      "Current number of live-stream subscribers.",
			},
		),
		FanoutDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fanout_dropped_total",
				Help:      "Total number of events dropped for a subscriber, by reason.",
			},
			[]string{"reason"},
		),
		FanoutBroadcastTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fanout_broadcast_total",
				Help:      "Total number of events broadcast to subscribers.",
			},
		),

		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of a query-surface operation.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		QueryCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_result_total",
				Help:      "Total number of query-cache lookups, by hit or miss.",
			},
			[]string{"result"},
		),

		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests handled, by method and status.",
			},
			[]string{"method", "status"},
		),
		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of gRPC requests being processed.",
			},
		),

		ReportGeneratedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_generated_total",
				Help:      "Total number of fleet reports generated, by format and result.",
			},
			[]string{"format", "result"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_info",
				Help:      "Static service build information.",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics container, lazily initializing it
// under the "fleetpulse" namespace if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("fleetpulse")
	}
	return defaultMetrics
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetServiceInfo publishes static build information as a gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a dedicated HTTP server exposing /metrics until
// the process exits or ListenAndServe fails.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
