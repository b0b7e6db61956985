package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	resultAllowed  = "allowed"
	resultDenied   = "denied"
	resultFailOpen = "fail_open"
)

// Limiter admits or rejects work per key using fixed time windows kept in
// a shared counter store.
//
// A key's window index is floor(now / window). Each (key, index) pair maps to
// one counter that expires shortly after the window ends. Checking a quota
// (IsAllowed) never increments; spending it (Consume) increments and refreshes
// the TTL in one atomic store call.
//
// Store failures fail open: IsAllowed admits the request with a full quota and
// the error is logged. Consume is the exception and returns its error, since
// a unit of quota may or may not have been recorded.
type Limiter struct {
	store        storage.Store
	prefix       string
	storeTimeout time.Duration
	now          func() time.Time
	metrics      *Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Config configures a Limiter.
type Config struct {
	// Prefix namespaces every key in the store.
	// Default: "ratelimit"
	Prefix string

	// StoreTimeout bounds each store call.
	// Default: 500ms
	StoreTimeout time.Duration

	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time

	// Metrics records limiter metrics. Optional.
	Metrics *Metrics

	// Logger receives store failures. Default: slog.Default().
	Logger *slog.Logger
}

// New creates a Limiter backed by store.
//
// Example:
//
//	limiter := ratelimit.New(store, ratelimit.Config{StoreTimeout: 250 * time.Millisecond})
//	opts := ratelimit.Options{MaxRequests: 100, Window: time.Minute}
//	if decision, _ := limiter.IsAllowed(ctx, "user-1", opts); decision.Allowed {
//	    _, err := limiter.Consume(ctx, "user-1", opts)
//	}
func New(store storage.Store, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Limiter{
		store:        store,
		prefix:       cfg.Prefix,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Clock,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "ratelimit"),
		tracer:       otel.Tracer("mercator-hq/tollgate/ratelimit"),
	}
}

// IsAllowed reports whether key may spend one more unit in the current window.
//
// The window counter is read, not incremented. A count at or above
// MaxRequests denies the request and, when BlockDuration is set, creates a
// block entry so later calls short-circuit through IsBlocked.
//
// The only error returned is ErrInvalidOptions. Store failures produce an
// allowed decision with FailOpen set.
func (l *Limiter) IsAllowed(ctx context.Context, key string, opts Options) (*Decision, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		l.metrics.RecordCheckDuration("is_allowed", time.Since(start).Seconds())
	}()

	ctx, span := l.tracer.Start(ctx, "ratelimit.is_allowed",
		trace.WithAttributes(attribute.Int64("ratelimit.limit", opts.MaxRequests)))
	defer span.End()

	now := l.now()
	index, resetTime := windowBounds(now, opts.Window)
	windowKey := l.windowKey(key, index)

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, err := l.store.Get(storeCtx, windowKey)
	if err != nil {
		tracing.SetError(span, err)
		return l.failOpen("is_allowed", key, opts, resetTime, err), nil
	}

	// A counter without a TTL would never reset; give it one.
	if count > 0 {
		ttl, err := l.store.TTL(storeCtx, windowKey)
		switch {
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			l.metrics.RecordStoreError("ttl")
			l.logger.Warn("failed to read window ttl", "key", key, "error", err)
		case err == nil && ttl == storage.NoTTL:
			if err := l.store.Expire(storeCtx, windowKey, opts.Window); err != nil {
				l.metrics.RecordStoreError("expire")
				l.logger.Warn("failed to refresh window ttl", "key", key, "error", err)
			}
		}
	}

	span.SetAttributes(attribute.Int64("ratelimit.count", count))

	if count >= opts.MaxRequests {
		decision := &Decision{
			Allowed:    false,
			Limit:      opts.MaxRequests,
			Remaining:  0,
			ResetTime:  resetTime,
			RetryAfter: resetTime.Sub(now),
		}

		if opts.BlockDuration > 0 {
			if err := l.store.SetWithTTL(storeCtx, l.blockKey(key), 1, opts.BlockDuration); err != nil {
				l.metrics.RecordStoreError("block")
				l.logger.Warn("failed to create block entry", "key", key, "error", err)
			} else {
				decision.Blocked = true
				decision.RetryAfter = opts.BlockDuration
				l.metrics.RecordBlock()
			}
		}

		l.metrics.RecordCheck(resultDenied)
		span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
		return decision, nil
	}

	l.metrics.RecordCheck(resultAllowed)
	span.SetAttributes(attribute.Bool("ratelimit.allowed", true))

	return &Decision{
		Allowed:   true,
		Limit:     opts.MaxRequests,
		Remaining: opts.MaxRequests - count - 1,
		ResetTime: resetTime,
	}, nil
}

// Consume spends one unit of quota for key.
//
// Errors are wrapped with ErrStoreUnavailable and must be treated as hard
// failures by the caller.
func (l *Limiter) Consume(ctx context.Context, key string, opts Options) (*Usage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		l.metrics.RecordCheckDuration("consume", time.Since(start).Seconds())
	}()

	ctx, span := l.tracer.Start(ctx, "ratelimit.consume")
	defer span.End()

	index, resetTime := windowBounds(l.now(), opts.Window)

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	hits, err := l.store.IncrWithExpire(storeCtx, l.windowKey(key, index), opts.Window)
	if err != nil {
		l.metrics.RecordStoreError("consume")
		tracing.SetError(span, err)
		tracing.SetStatus(span, err)
		return nil, fmt.Errorf("%w: failed to consume quota for %s: %w", ErrStoreUnavailable, key, err)
	}

	l.metrics.RecordConsume()
	span.SetAttributes(attribute.Int64("ratelimit.hits", hits))

	remaining := opts.MaxRequests - hits
	if remaining < 0 {
		remaining = 0
	}

	return &Usage{
		TotalHits: hits,
		Remaining: remaining,
		ResetTime: resetTime,
	}, nil
}

// IsBlocked reports whether key has a live block entry.
// Store failures are logged and report false.
func (l *Limiter) IsBlocked(ctx context.Context, key string) bool {
	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	blocked, err := l.store.Exists(storeCtx, l.blockKey(key))
	if err != nil {
		l.metrics.RecordStoreError("is_blocked")
		l.logger.Warn("failed to check block entry, failing open", "key", key, "error", err)
		return false
	}
	return blocked
}

// BlockTTL returns how long key stays blocked, or 0 when it is not blocked.
func (l *Limiter) BlockTTL(ctx context.Context, key string) time.Duration {
	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	ttl, err := l.store.TTL(storeCtx, l.blockKey(key))
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// Reset deletes every window counter and the block entry of key.
// Administrative override; not used on the request path.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	matched, err := l.store.Keys(storeCtx, l.windowPattern(key))
	if err != nil {
		l.metrics.RecordStoreError("reset")
		return fmt.Errorf("failed to list windows of %s: %w", key, err)
	}

	keys := make([]string, 0, len(matched)+1)
	for _, k := range matched {
		if l.isWindowOf(k, key) {
			keys = append(keys, k)
		}
	}
	keys = append(keys, l.blockKey(key))
	if _, err := l.store.Delete(storeCtx, keys...); err != nil {
		l.metrics.RecordStoreError("reset")
		return fmt.Errorf("failed to reset %s: %w", key, err)
	}

	l.logger.Info("rate limit reset", "key", key, "deleted_windows", len(keys)-1)
	return nil
}

// Status returns a read-only view of key under opts.
// Store failures are logged and report an unrestricted key.
func (l *Limiter) Status(ctx context.Context, key string, opts Options) (*Status, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	index, resetTime := windowBounds(l.now(), opts.Window)

	status := &Status{
		Key:       key,
		Remaining: opts.MaxRequests,
		ResetTime: resetTime,
		Limit:     opts.MaxRequests,
		Window:    opts.Window,
		WindowMs:  opts.Window.Milliseconds(),
		State:     StateUnrestricted,
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, err := l.store.Get(storeCtx, l.windowKey(key, index))
	if err != nil {
		l.metrics.RecordStoreError("status")
		l.logger.Warn("failed to read window counter", "key", key, "error", err)
		return status, nil
	}
	status.Blocked = l.IsBlocked(ctx, key)

	status.TotalHits = count
	status.Remaining = opts.MaxRequests - count
	if status.Remaining < 0 {
		status.Remaining = 0
	}

	switch {
	case status.Blocked:
		status.State = StateBlocked
	case count >= opts.MaxRequests:
		status.State = StateAtLimit
	case count > 0:
		status.State = StateWithinLimit
	}

	return status, nil
}

// failOpen builds the decision returned when the store cannot be reached.
func (l *Limiter) failOpen(operation, key string, opts Options, resetTime time.Time, err error) *Decision {
	l.metrics.RecordStoreError(operation)
	l.metrics.RecordCheck(resultFailOpen)
	l.logger.Error("counter store unavailable, failing open",
		"operation", operation,
		"key", key,
		"error", err,
	)

	return &Decision{
		Allowed:   true,
		Limit:     opts.MaxRequests,
		Remaining: opts.MaxRequests,
		ResetTime: resetTime,
		FailOpen:  true,
	}
}

// windowBounds returns the index of the window containing now and the time
// the window ends. Integer division floors for any time after the epoch.
func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	windowMs := window.Milliseconds()
	index := now.UnixMilli() / windowMs
	return index, time.UnixMilli((index + 1) * windowMs)
}

func (l *Limiter) windowKey(key string, index int64) string {
	return l.prefix + ":" + key + ":" + strconv.FormatInt(index, 10)
}

func (l *Limiter) blockKey(key string) string {
	return l.prefix + ":block:" + key
}

// windowPattern matches every window counter of key. Window indexes are
// decimal, which keeps the block entry out of the match. The trailing * also
// matches colons, so results must be narrowed with isWindowOf.
func (l *Limiter) windowPattern(key string) string {
	return escapeGlob(l.prefix) + ":" + escapeGlob(key) + ":[0-9]*"
}

// isWindowOf reports whether storeKey is a window counter of key, that is
// the key followed by nothing but a decimal window index. Keys sharing a
// prefix such as "user:alice" and "user:alice:2" stay apart.
func (l *Limiter) isWindowOf(storeKey, key string) bool {
	index, ok := strings.CutPrefix(storeKey, l.prefix+":"+key+":")
	if !ok || index == "" {
		return false
	}
	for i := 0; i < len(index); i++ {
		if index[i] < '0' || index[i] > '9' {
			return false
		}
	}
	return true
}

// escapeGlob wraps glob metacharacters in single-character classes so keys
// such as IPv6 literals match verbatim. Classes work the same in Redis and
// SQLite GLOB, unlike backslash escapes.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, "*?[") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
