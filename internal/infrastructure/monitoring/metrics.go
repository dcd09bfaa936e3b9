package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Bundle metrics
	BundlesActive prometheus.Gauge
	BundleLoads   *prometheus.CounterVec

	// Fetch routing metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	// Connection metrics
	Disconnects      prometheus.Counter
	ReconnectSuccess prometheus.Counter
	ReconnectFailure prometheus.Counter

	// Watcher metrics
	WatchersActive prometheus.Gauge
	Notifications  *prometheus.CounterVec

	// Client metrics
	WSClients  prometheus.Gauge
	WSMessages *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		BundlesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_bundles_active",
			Help: "Number of bundles currently in the active state",
		}),
		BundleLoads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_bundle_loads_total",
				Help: "Bundle load attempts by result",
			},
			[]string{"result"},
		),

		FetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_fetches_total",
				Help: "Virtual filesystem fetches by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_fetch_duration_seconds",
			Help:    "Virtual filesystem fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		Disconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proxy_disconnects_total",
			Help: "Sync connection losses detected by the health check",
		}),
		ReconnectSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proxy_reconnect_success_total",
			Help: "Successful reconnects",
		}),
		ReconnectFailure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proxy_reconnect_failure_total",
			Help: "Reconnect attempts that failed",
		}),

		WatchersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_watchers_active",
			Help: "Number of live change watchers",
		}),
		Notifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_notifications_total",
				Help: "Watch notifications by delivery outcome",
			},
			[]string{"outcome"},
		),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_ws_clients",
			Help: "Connected page clients",
		}),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_ws_messages_total",
				Help: "Control messages by type",
			},
			[]string{"type"},
		),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFetch records one virtual filesystem fetch.
func (m *Metrics) RecordFetch(outcome string, duration time.Duration) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
