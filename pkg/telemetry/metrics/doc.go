// Package metrics provides Tollgate's in-process metrics registry and the
// loop that keeps it current.
//
// # Overview
//
// A Registry holds three kinds of series, each identified by name plus its
// labels in sorted key order:
//
//   - Counters: monotonic integers, cleared only by Reset
//   - Gauges: the latest value and the time it was set
//   - Histograms: the most recent 1000 observations with a running sum
//
// Histograms are summarized on demand. Percentiles use the nearest rank
// sorted[ceil(n*p)-1] without interpolation, so for the values 1..10 p50 is
// 5, p90 is 9 and p99 is 10.
//
// # Usage
//
//	registry := metrics.NewRegistry()
//	registry.IncrementCounter("http_requests_total", 1, metrics.Labels{"route": "/api"})
//	registry.RecordHistogram("http_request_duration_ms", 12.5, metrics.Labels{"route": "/api"})
//
//	collector := metrics.NewCollector(registry, metrics.CollectorConfigFrom(cfg.Telemetry.Metrics),
//		metrics.WithCounterStore(store),
//		metrics.WithDatabase(db),
//	)
//	if err := collector.Start(ctx); err != nil {
//		return err
//	}
//	defer collector.Stop()
//
// # Collection
//
// Every interval (30s by default) the Collector samples process and host
// state from /proc, pings the counter store and the database, reads table
// row counts and business counts. Sources run concurrently, each call under
// its own timeout, and a failing source never stops the others.
//
// # Exposition
//
//   - PrometheusText: text format 0.0.4 with quantile lines per histogram
//   - Snapshot: the JSON view served at /metrics/json
//   - Bridge: a prometheus.Collector for promhttp at /metrics/prometheus
//   - HealthStatus: healthy, degraded or unhealthy, derived from gauges only
//
// # Retention
//
// Cleanup evicts gauges and histogram observations older than the retention
// window (1h by default) and recomputes histogram sums. It is run by the
// retention scheduler.
package metrics
