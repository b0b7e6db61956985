package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence.
// Counters survive restarts, which suits single-instance deployments that
// must not hand out a fresh quota after a crash.
//
// SQLiteStore uses a write-ahead log (WAL) for better concurrent performance
// and a background loop that checkpoints the WAL and purges expired rows.
type SQLiteStore struct {
	db              *sql.DB
	dbPath          string
	cleanupInterval time.Duration
	now             func() time.Time
	done            chan struct{}
	closeOnce       sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	getStmt    *sql.Stmt
	incrStmt   *sql.Stmt
	expireStmt *sql.Stmt
	ttlStmt    *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	keysStmt   *sql.Stmt
	purgeStmt  *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CleanupInterval is how often to checkpoint the WAL and purge expired rows.
	// Default: 1 minute
	CleanupInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Clock overrides time.Now. Used by tests to move time forward.
	Clock func() time.Time
}

// NewSQLiteStore creates a new SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{
		DBPath:          dbPath,
		CleanupInterval: time.Minute,
		BusyTimeout:     5 * time.Second,
	})
}

// NewSQLiteStoreWithConfig creates a new SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	// Apply defaults
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	// Open database with WAL mode and busy timeout
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:              db,
		dbPath:          cfg.DBPath,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Clock,
		done:            make(chan struct{}),
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Prepare statements
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	// Start background cleanup goroutine
	go store.cleanupLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
// expires_at is unix milliseconds, 0 for keys without expiry.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		key TEXT NOT NULL PRIMARY KEY,
		value INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_counters_expires_at ON counters(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT value FROM counters
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	// A row whose expiry has passed restarts at 1 instead of continuing.
	s.incrStmt, err = s.db.Prepare(`
		INSERT INTO counters (key, value, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN counters.expires_at <> 0 AND counters.expires_at <= ? THEN 1
				ELSE counters.value + 1
			END,
			expires_at = excluded.expires_at
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare incr statement: %w", err)
	}

	s.expireStmt, err = s.db.Prepare(`
		UPDATE counters SET expires_at = ?
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare expire statement: %w", err)
	}

	s.ttlStmt, err = s.db.Prepare(`
		SELECT expires_at FROM counters
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ttl statement: %w", err)
	}

	s.setStmt, err = s.db.Prepare(`
		INSERT INTO counters (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`
		DELETE FROM counters
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	// SQLite GLOB shares the *, ? and [...] syntax of Redis patterns.
	s.keysStmt, err = s.db.Prepare(`
		SELECT key FROM counters
		WHERE key GLOB ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare keys statement: %w", err)
	}

	s.purgeStmt, err = s.db.Prepare(`
		DELETE FROM counters
		WHERE expires_at <> 0 AND expires_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare purge statement: %w", err)
	}

	return nil
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Get returns the current value of a counter.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.getStmt.QueryRowContext(ctx, key, s.nowMillis()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// IncrWithExpire increments a counter and refreshes its expiry in one
// UPSERT statement.
func (s *SQLiteStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	now := s.nowMillis()
	var value int64
	err := s.incrStmt.QueryRowContext(ctx, key, now+ttl.Milliseconds(), now).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return value, nil
}

// Expire sets the TTL of an existing key.
func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.nowMillis()
	if _, err := s.expireStmt.ExecContext(ctx, now+ttl.Milliseconds(), key, now); err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key.
func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := s.nowMillis()

	var expiresAt int64
	err := s.ttlStmt.QueryRowContext(ctx, key, now).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	if expiresAt == 0 {
		return NoTTL, nil
	}
	return time.Duration(expiresAt-now) * time.Millisecond, nil
}

// SetWithTTL stores a value that expires after ttl.
// A non-positive ttl stores the value without expiry.
func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.nowMillis() + ttl.Milliseconds()
	}
	if _, err := s.setStmt.ExecContext(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a live key exists.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.TTL(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes keys in one transaction and returns how many existed.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.deleteStmt)
	now := s.nowMillis()

	var deleted int64
	for _, key := range keys {
		result, err := stmt.ExecContext(ctx, key, now)
		if err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

// Keys lists live keys matching a glob pattern.
func (s *SQLiteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.keysStmt.QueryContext(ctx, pattern, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return keys, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Purge removes expired rows and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	result, err := s.purgeStmt.ExecContext(ctx, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to purge: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(purged), nil
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		// Signal cleanup goroutine to stop
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.getStmt, s.incrStmt, s.expireStmt, s.ttlStmt,
			s.setStmt, s.deleteStmt, s.keysStmt, s.purgeStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			// Run final checkpoint
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// cleanupLoop runs periodic WAL checkpoints and expired-row purges.
func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.Purge(context.Background())
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
