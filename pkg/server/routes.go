package server

import (
	"net/http"

	"mercator-hq/tollgate/pkg/proxy/middleware"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// setupRoutes configures HTTP routes and the middleware chain.
//
// Only the application mounted at "/" passes the admission filter; the
// telemetry and admin routes are never rate limited.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	d := s.deps
	tc := s.config.Telemetry

	// Metrics
	if d.Registry != nil && tc.Metrics.Enabled {
		path := tc.Metrics.Path
		mux.Handle("GET "+path, d.Registry.TextHandler())
		mux.Handle("GET "+path+"/json", d.Registry.JSONHandler())
		if d.Gatherer != nil {
			mux.Handle("GET "+path+"/prometheus", metrics.GathererHandler(d.Gatherer))
		}
		mux.Handle("POST /admin/metrics/reset", s.adminOnly(d.Registry.ResetHandler()))
	}

	// Health
	if d.Collector != nil {
		mux.Handle("GET "+tc.Health.Path, d.Collector.HealthHandler())
	}
	if d.Health != nil {
		mux.Handle("GET "+tc.Health.LivenessPath, d.Health.LivenessHandler())
		mux.Handle("GET "+tc.Health.ReadinessPath, d.Health.ReadinessHandler())
	}
	mux.Handle("GET /version", health.VersionHandler(d.Version, d.Commit, d.BuildDate))

	// Error tracker
	if d.Tracker != nil {
		mux.Handle("GET /errors/stats", s.errorStatsHandler())
		mux.Handle("GET /performance/stats", s.performanceStatsHandler())
	}

	// Rate limit administration
	if d.Limiter != nil {
		mux.Handle("GET /admin/ratelimit/{key}", s.adminOnly(s.rateLimitStatusHandler()))
		mux.Handle("DELETE /admin/ratelimit/{key}", s.adminOnly(s.rateLimitResetHandler()))
	}

	// Application
	app := d.App
	if app == nil {
		app = http.HandlerFunc(echoHandler)
	}
	if d.Admission != nil {
		app = d.Admission.Middleware(app)
	}
	mux.Handle("/", app)

	var handler http.Handler = mux

	// Recovery middleware
	handler = middleware.RecoveryMiddleware(handler)

	// Instrumentation middleware
	handler = middleware.InstrumentMiddleware(middleware.InstrumentConfig{
		Registry:  d.Registry,
		Tracker:   d.Tracker,
		RouteFunc: routeLabel(mux),
	})(handler)

	// Logging middleware
	handler = middleware.LoggingMiddleware(s.logger)(handler)

	// Tracing middleware
	handler = tracing.HTTPMiddleware(handler)

	// Request ID middleware (outermost)
	handler = middleware.RequestIDMiddleware(handler)

	return handler
}

// routeLabel labels requests with the mux pattern they match, which keeps
// metric cardinality bounded by the route table.
func routeLabel(mux *http.ServeMux) middleware.RouteFunc {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "unmatched"
		}
		return pattern
	}
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":        "admitted",
		"request_id":    middleware.GetRequestID(ctx),
		"ratelimit_key": middleware.GetRateLimitKey(ctx),
	})
}
