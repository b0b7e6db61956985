// Package telemetry groups Tollgate's observability components.
//
// # Components
//
//   - logging: structured slog logging with PII redaction and request fields
//   - metrics: in-process counters, gauges and histograms, the periodic
//     collection loop, health evaluation and Prometheus/JSON export
//   - errortrack: error categorization, performance timers and alerting
//   - tracing: OpenTelemetry distributed tracing
//   - health: liveness and readiness probes
//   - retention: scheduled sweeps of aged metric samples and error statistics
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	registry := metrics.NewRegistry()
//	collector := metrics.NewCollector(registry, metrics.CollectorConfigFrom(cfg.Telemetry.Metrics),
//	    metrics.WithCounterStore(store))
//	tracker := errortrack.New(errortrack.ConfigFrom(cfg.Telemetry.Errors),
//	    errortrack.WithRegistry(registry), errortrack.WithRedactor(logger.Redactor()))
//
//	scheduler := retention.NewScheduler(cfg.Telemetry.Cleanup.Schedule,
//	    retention.MetricsTask(collector), retention.ErrorsTask(tracker))
//
// Every component accepts nil optional collaborators, so tests can build
// just the piece under test.
package telemetry
