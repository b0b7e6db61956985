// Package server provides Tollgate's HTTP server.
//
// The server mounts the protected application behind the admission filter and
// exposes the telemetry and administration routes next to it.
//
// # Routes
//
//	GET    /metrics                  in-process registry, Prometheus text format
//	GET    /metrics/json             in-process registry snapshot
//	GET    /metrics/prometheus       client_golang registry (limiter metrics + bridge)
//	GET    /health                   tri-state health report, 503 when unhealthy
//	GET    /health/live              liveness probe
//	GET    /health/ready             readiness probe, 503 when a critical check fails
//	GET    /version                  build information
//	GET    /errors/stats             error tracker totals and top errors
//	GET    /performance/stats        per-operation timings
//	GET    /admin/ratelimit/{key}    limiter status (?path= selects a route quota)
//	DELETE /admin/ratelimit/{key}    reset a key
//	POST   /admin/metrics/reset      clear the in-process registry
//	*      /                         application, rate limited
//
// The metrics and health paths follow the telemetry configuration. When
// server.admin_token is set the /admin routes require it as a bearer token.
//
// # Middleware
//
// Every request passes, outermost first:
//
//	RequestID -> Tracing -> Logging -> Instrument -> Recovery -> mux
//
// and requests for the application additionally pass Admission.
//
// # Basic Usage
//
//	srv := server.NewServer(cfg, server.Deps{
//	    Limiter:   limiter,
//	    Admission: admission,
//	    Registry:  registry,
//	    Collector: collector,
//	    Tracker:   tracker,
//	    Health:    checker,
//	    Gatherer:  promRegistry,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled or Stop is called and then shuts down
// gracefully within server.shutdown_timeout.
package server
