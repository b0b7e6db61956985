// Package limits groups Tollgate's request quota enforcement.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: fixed-window limiter with optional blocking of abusive keys
//   - storage: atomic counter stores (memory, Redis, SQLite)
//
// The limiter never keeps counters itself. Every window counter and block
// entry lives in a storage.Store with a TTL, so several Tollgate processes
// sharing a Redis or SQLite store enforce one quota.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.OptionsFrom(cfg.CounterStore))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	limiter := ratelimit.New(store, ratelimit.Config{Prefix: cfg.RateLimit.KeyPrefix})
//	opts := ratelimit.Options{MaxRequests: 100, Window: time.Minute}
//
//	decision, err := limiter.IsAllowed(ctx, "user:alice", opts)
//	if err == nil && decision.Allowed {
//	    _, err = limiter.Consume(ctx, "user:alice", opts)
//	}
//
// HTTP admission on top of the limiter is provided by pkg/proxy/middleware.
package limits
