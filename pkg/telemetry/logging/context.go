package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// UserKey is the context key for the caller identity.
	UserKey contextKey = "user_id"

	// RouteKey is the context key for the matched route pattern.
	RouteKey contextKey = "route"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUser adds a caller identity to the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the caller identity from the context.
func GetUser(ctx context.Context) string {
	if user, ok := ctx.Value(UserKey).(string); ok {
		return user
	}
	return ""
}

// WithRoute adds the matched route to the context.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

// GetRoute retrieves the matched route from the context.
func GetRoute(ctx context.Context) string {
	if route, ok := ctx.Value(RouteKey).(string); ok {
		return route
	}
	return ""
}

// contextFields extracts request scoped fields, including the active trace
// and span IDs, as key/value pairs.
func contextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var fields []any
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, string(RequestIDKey), id)
	}
	if user := GetUser(ctx); user != "" {
		fields = append(fields, string(UserKey), user)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			"trace_id", sc.TraceID().String(),
			"span_id", sc.SpanID().String(),
		)
	}
	return fields
}
