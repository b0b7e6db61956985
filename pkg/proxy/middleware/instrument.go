package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/telemetry/errortrack"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Metric names written by InstrumentMiddleware.
const (
	MetricHTTPRequests        = "http_requests_total"
	MetricHTTPRequestDuration = "http_request_duration_ms"
)

// RouteFunc returns a low-cardinality route label for a request.
type RouteFunc func(r *http.Request) string

// InstrumentConfig configures InstrumentMiddleware.
type InstrumentConfig struct {
	Registry *metrics.Registry
	Tracker  *errortrack.Tracker

	// RouteFunc labels requests. Default: the first path segment.
	RouteFunc RouteFunc
}

// StatusError is captured for 5xx responses whose handler did not report a
// cause with ReportError.
type StatusError struct {
	Status int
	Method string
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// StatusCode implements errortrack.StatusCoder.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// InstrumentMiddleware records request counts and latency in the metrics
// registry, times each request with the error tracker and captures failed
// requests. Errors passed to ReportError are captured with their route and
// status; 5xx responses without one are captured as a StatusError.
//
// Example usage:
//
//	handler = InstrumentMiddleware(InstrumentConfig{Registry: reg, Tracker: tracker})(handler)
func InstrumentMiddleware(cfg InstrumentConfig) func(http.Handler) http.Handler {
	routeOf := cfg.RouteFunc
	if routeOf == nil {
		routeOf = FirstSegmentRoute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeOf(r)
			slot := &errorSlot{}
			ctx := context.WithValue(r.Context(), errorSlotKey, slot)
			ctx = logging.WithRoute(ctx, route)

			var timer *errortrack.Timer
			if cfg.Tracker != nil {
				timer = cfg.Tracker.StartTimer("http " + route)
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			status := rw.statusCode
			elapsed := float64(time.Since(start).Microseconds()) / 1000

			if timer != nil {
				timer.End(map[string]any{
					"method": r.Method,
					"status": status,
				})
			}

			if cfg.Registry != nil {
				cfg.Registry.RecordHistogram(MetricHTTPRequestDuration, elapsed, metrics.Labels{"route": route})
				cfg.Registry.IncrementCounter(MetricHTTPRequests, 1, metrics.Labels{
					"method": r.Method,
					"route":  route,
					"status": strconv.Itoa(status),
				})
			}

			if cfg.Tracker == nil {
				return
			}
			err := slot.get()
			if err == nil && status >= http.StatusInternalServerError {
				err = &StatusError{Status: status, Method: r.Method, Path: r.URL.Path}
			}
			if err != nil {
				cfg.Tracker.CaptureError(ctx, err, errortrack.Context{
					Operation:  "http " + route,
					Route:      route,
					Method:     r.Method,
					StatusCode: status,
					RequestID:  GetRequestID(ctx),
					UserID:     logging.GetUser(ctx),
				})
			}
		})
	}
}

// FirstSegmentRoute labels a request with its first path segment, so
// "/api/orders/42" becomes "/api".
func FirstSegmentRoute(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		return "/"
	}
	first, _, _ := strings.Cut(path, "/")
	return "/" + first
}
