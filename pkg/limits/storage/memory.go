package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// All data is lost when the process exits and nothing is shared between
// processes, so it only suits tests and single-instance deployments.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryStore struct {
	// entries maps key to its counter and expiry.
	entries map[string]*memoryEntry

	// mu protects access to entries map.
	mu sync.RWMutex

	// now returns the current time. Overridable for tests.
	now func() time.Time

	// cleanupInterval is how often expired entries are purged.
	cleanupInterval time.Duration

	// done signals the cleanup goroutine to stop.
	done chan struct{}

	closeOnce sync.Once
}

type memoryEntry struct {
	value int64

	// expiresAt is the zero time for entries without a TTL.
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often to purge expired entries.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock overrides time.Now. Used by tests to move time forward.
	Clock func() time.Time
}

// NewMemoryStore creates a new in-memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{
		CleanupInterval: time.Minute,
	})
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	// Apply defaults
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	store := &MemoryStore{
		entries:         make(map[string]*memoryEntry),
		now:             cfg.Clock,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	// Start background cleanup goroutine
	go store.cleanupLoop()

	return store
}

// Get returns the current value of a counter.
func (m *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return 0, nil
	}
	return entry.value, nil
}

// IncrWithExpire increments a counter and refreshes its TTL under one lock.
func (m *MemoryStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}
	entry.value++
	entry.expiresAt = now.Add(ttl)

	return entry.value, nil
}

// Expire sets the TTL of an existing key.
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		return nil
	}
	entry.expiresAt = now.Add(ttl)
	return nil
}

// TTL returns the remaining lifetime of a key.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		return 0, ErrNotFound
	}
	if entry.expiresAt.IsZero() {
		return NoTTL, nil
	}
	return entry.expiresAt.Sub(now), nil
}

// SetWithTTL stores a value that expires after ttl.
// A non-positive ttl stores the value without expiry.
func (m *MemoryStore) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Exists reports whether a live key exists.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	return ok && !entry.expired(m.now()), nil
}

// Delete removes keys and returns how many live keys were removed.
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var deleted int64
	for _, key := range keys {
		entry, ok := m.entries[key]
		if !ok {
			continue
		}
		if !entry.expired(now) {
			deleted++
		}
		delete(m.entries, key)
	}
	return deleted, nil
}

// Keys lists live keys matching a glob pattern.
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	match, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	keys := make([]string, 0)
	for key, entry := range m.entries {
		if entry.expired(now) {
			continue
		}
		if match.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close stops the cleanup goroutine.
// Close is idempotent and safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// Size returns the number of stored entries, including expired ones that
// have not been purged yet. Useful for monitoring and testing.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Purge removes expired entries and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			purged++
		}
	}
	return purged
}

// cleanupLoop runs periodic purges of expired entries.
func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Purge()
		case <-m.done:
			return
		}
	}
}
