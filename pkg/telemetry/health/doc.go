// Package health provides liveness and readiness probes for Tollgate.
//
// # Endpoints
//
//   - /health/live: the process is up; always 200
//   - /health/ready: dependency checks; 503 only when a critical check fails
//   - /version: build information
//
// The aggregated /health verdict (healthy, degraded, unhealthy) is computed
// from collected gauges by the metrics package. The probes here call the
// dependencies directly, so they reflect the moment of the request rather
// than the last collection cycle.
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.Register("counter_store", health.PingCheck(store), false)
//	checker.Register("database", health.PingCheck(db), true)
//
//	mux.Handle("/health/live", checker.LivenessHandler())
//	mux.Handle("/health/ready", checker.ReadinessHandler())
//
// # Critical and Non-critical Checks
//
// A failing non-critical check reports "degraded" with status 200, so the
// process keeps receiving traffic. The counter store is registered as
// non-critical since the rate limiter admits requests when it is
// unreachable.
package health
