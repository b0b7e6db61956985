package storage

import (
	"context"
	"errors"
	"time"
)

// NoTTL is returned by Store.TTL for a key that exists but never expires.
const NoTTL time.Duration = -1

// ErrNotFound is returned by Store.TTL when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store defines the atomic counter store the rate limiter runs on.
// Implementations must be thread-safe and, for shared backends, safe for
// concurrent use from many processes.
type Store interface {
	// Get returns the current value of a counter.
	// A missing or expired key reads as 0 with a nil error.
	Get(ctx context.Context, key string) (int64, error)

	// IncrWithExpire increments a counter by one and sets its TTL.
	// Both happen as a single indivisible operation so a crash between
	// them can never leave a counter without an expiry.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Expire sets the TTL of an existing key. No-op if the key is missing.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key, NoTTL for a key without
	// expiry, or ErrNotFound for a missing key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error

	// Exists reports whether a live key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Keys lists live keys matching a glob pattern (*, ? and [...]).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks connectivity with the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	// The store should not be used after calling Close.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a Store backend.
type Options struct {
	// Backend is one of BackendMemory, BackendRedis or BackendSQLite.
	Backend string

	// Memory configures the in-memory backend.
	Memory MemoryStoreConfig

	// Redis configures the Redis backend.
	Redis RedisStoreConfig

	// SQLite configures the SQLite backend.
	SQLite SQLiteStoreConfig
}
