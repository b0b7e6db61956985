package middleware

import (
	"context"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"

	// RateLimitKeyKey stores the resolved rate limit key.
	RateLimitKeyKey contextKey = "ratelimit_key"

	// IdentityKey stores the authenticated caller identity.
	IdentityKey contextKey = "identity"

	// errorSlotKey stores the request's reported error.
	errorSlotKey contextKey = "error_slot"
)

// WithIdentity records the authenticated caller identity for the admission
// filter. Call it from authentication middleware that runs before admission.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity returns the identity stored by WithIdentity, or "".
func GetIdentity(ctx context.Context) string {
	if id, ok := ctx.Value(IdentityKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	return logging.GetRequestID(ctx)
}

// GetStartTime extracts the request start time from the context.
// Returns zero time if not found.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}

// GetRateLimitKey returns the key the admission filter charged.
func GetRateLimitKey(ctx context.Context) string {
	if holder, ok := ctx.Value(RateLimitKeyKey).(*keyHolder); ok {
		return holder.get()
	}
	return ""
}

// keyHolder is installed by LoggingMiddleware and filled in by the
// admission filter further down the chain.
type keyHolder struct {
	mu  sync.Mutex
	key string
}

func (h *keyHolder) set(key string) {
	h.mu.Lock()
	h.key = key
	h.mu.Unlock()
}

func (h *keyHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

// withRateLimitKey records key on the holder in ctx, installing one when
// LoggingMiddleware is not in the chain.
func withRateLimitKey(ctx context.Context, key string) context.Context {
	if holder, ok := ctx.Value(RateLimitKeyKey).(*keyHolder); ok {
		holder.set(key)
		return ctx
	}
	holder := &keyHolder{key: key}
	return context.WithValue(ctx, RateLimitKeyKey, holder)
}

// errorSlot carries the cause of a failed request from the handler back to
// the instrumentation middleware.
type errorSlot struct {
	mu  sync.Mutex
	err error
}

// ReportError attaches err to the current request so that a 5xx response is
// captured with its real cause instead of a generic status error. It is a
// no-op outside InstrumentMiddleware. The first reported error wins.
func ReportError(ctx context.Context, err error) {
	slot, ok := ctx.Value(errorSlotKey).(*errorSlot)
	if !ok || err == nil {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.err == nil {
		slot.err = err
	}
}

func (s *errorSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
