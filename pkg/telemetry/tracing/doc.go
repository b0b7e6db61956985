// Package tracing configures OpenTelemetry distributed tracing.
//
// New installs a TracerProvider with an OTLP gRPC exporter as the otel
// global, along with the W3C Trace Context and Baggage propagators.
// Components never hold a reference to it; they call otel.Tracer(name) and
// get real spans when tracing is enabled and no-op spans otherwise.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithVersion(version))
//	defer tracer.Shutdown(context.Background())
//
// HTTPMiddleware continues traces arriving in a traceparent header and
// opens one server span per request.
//
// # Sampling
//
// Three strategies are supported, each respecting the parent's decision:
//   - always: every trace (development)
//   - never: no new traces
//   - ratio: a TraceID-hashed fraction (production)
package tracing
