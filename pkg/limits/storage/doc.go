// Package storage provides atomic counter stores for rate limiting.
//
// # Overview
//
// The storage package defines the Store interface the rate limiter depends on
// (get, atomic increment with expiry, expire, delete and pattern listing) and
// provides three implementations:
//
//   - Memory: Fast in-memory storage for tests and single-instance deployments
//   - Redis: Shared storage for multi-instance deployments
//   - SQLite: Lightweight file-based persistence for a single node
//
// # Atomicity
//
// IncrWithExpire is the only write on the request hot path. Every backend
// performs the increment and the TTL refresh as one unit:
//
//   - Memory: both under the store mutex
//   - Redis: a MULTI/EXEC transaction (INCR + PEXPIRE)
//   - SQLite: a single UPSERT ... RETURNING statement
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{Backend: storage.BackendRedis,
//	    Redis: storage.RedisStoreConfig{Addr: "localhost:6379"}})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.IncrWithExpire(ctx, "ratelimit:user-1:28571234", time.Minute)
//
// # Thread Safety
//
// All stores are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
