// Package monitoring provides Prometheus metrics for the bundle proxy:
// HTTP request counters and latencies, bundle/watcher/client gauges, and
// connection-health counters fed by the connection monitor.
//
// Metrics are exposed on /metrics via promhttp.
package monitoring
