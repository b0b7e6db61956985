package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis.
// This is the backend for multi-instance deployments: every process shares
// the same counters and Redis serializes concurrent increments.
type RedisStore struct {
	client redis.UniversalClient

	// scanCount is the COUNT hint passed to SCAN when listing keys.
	scanCount int64
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username for Redis ACL authentication (optional).
	Username string

	// Password for Redis authentication (optional).
	Password string

	// DB is the Redis logical database number.
	DB int

	// PoolSize is the maximum number of socket connections.
	// Default: 10 per CPU (go-redis default)
	PoolSize int

	// DialTimeout bounds connection establishment.
	// Default: 5 seconds
	DialTimeout time.Duration

	// ReadTimeout bounds socket reads.
	// Default: 3 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds socket writes.
	// Default: 3 seconds
	WriteTimeout time.Duration

	// ScanCount is the COUNT hint used by Keys.
	// Default: 100
	ScanCount int64
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	store := NewRedisStoreFromClient(client)
	if cfg.ScanCount > 0 {
		store.scanCount = cfg.ScanCount
	}
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes
// ownership of the client and closes it on Close.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:    client,
		scanCount: 100,
	}
}

// Get returns the current value of a counter.
func (r *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// IncrWithExpire runs INCR and PEXPIRE inside one MULTI/EXEC transaction.
func (r *RedisStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	return incr.Val(), nil
}

// Expire sets the TTL of an existing key.
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}

	// go-redis passes the -2 (missing) and -1 (no expiry) replies through unscaled.
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return NoTTL, nil
	}
	return ttl, nil
}

// SetWithTTL stores a value that expires after ttl.
func (r *RedisStore) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a key exists.
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes keys and returns how many existed.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return n, nil
}

// Keys lists keys matching a glob pattern using SCAN, so large keyspaces
// never block the server the way KEYS would.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Ping checks connectivity with Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
