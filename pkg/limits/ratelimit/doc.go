// Package ratelimit provides fixed-window rate limiting over a shared counter store.
//
// # Overview
//
// Time is partitioned into equal, non-overlapping windows. The counter for a
// key lives at "ratelimit:<key>:<floor(now/window)>" in a storage.Store and
// expires with its window, so quotas reset at each boundary:
//
//	limiter := ratelimit.New(store, ratelimit.Config{})
//	opts := ratelimit.Options{MaxRequests: 100, Window: time.Minute, BlockDuration: 5 * time.Minute}
//
//	if limiter.IsBlocked(ctx, key) {
//	    // reject
//	}
//	decision, err := limiter.IsAllowed(ctx, key, opts)
//	if err != nil {
//	    // invalid options
//	}
//	if decision.Allowed {
//	    usage, err := limiter.Consume(ctx, key, opts)
//	}
//
// # Boundaries
//
// A request is denied when the window count is at or above MaxRequests. Two
// requests straddling a window edge each get a fresh quota in their own
// window; this is the accepted imprecision of fixed windows.
//
// # Failure Policy
//
// Every store call carries its own timeout. IsAllowed, IsBlocked and Status
// fail open when the store is unreachable. Consume returns the error wrapped
// with ErrStoreUnavailable because the increment may or may not have landed.
//
// # Thread Safety
//
// The Limiter holds no mutable state of its own. Concurrent Consume calls on
// the same key rely on the atomicity of Store.IncrWithExpire.
package ratelimit
