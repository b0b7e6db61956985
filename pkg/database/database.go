package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	// Drivers registered as "pgx" and "sqlite".
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DB is the relational database polled by the metrics collector. It reports
// connectivity, row counts of selected tables and named business counts.
type DB struct {
	db     *sql.DB
	driver string
	tables []string
	counts map[string]string
}

// Open opens the database described by cfg and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn cannot be empty")
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db, err := New(sqlDB, cfg.Driver, cfg.Tables, cfg.BusinessCounts)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an open pool. Table names must be plain or schema-qualified
// identifiers.
func New(sqlDB *sql.DB, driver string, tables []string, counts map[string]string) (*DB, error) {
	for _, t := range tables {
		if !identifierPattern.MatchString(t) {
			return nil, fmt.Errorf("invalid table name %q", t)
		}
	}
	for name, q := range counts {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("business count %q has an empty query", name)
		}
	}
	return &DB{db: sqlDB, driver: driver, tables: tables, counts: counts}, nil
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// TableStats counts the rows of each configured table.
func (d *DB) TableStats(ctx context.Context) ([]metrics.TableStat, error) {
	stats := make([]metrics.TableStat, 0, len(d.tables))
	for _, table := range d.tables {
		var rows int64
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdentifier(table)).Scan(&rows); err != nil {
			return stats, fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		stats = append(stats, metrics.TableStat{Table: table, Rows: rows})
	}
	return stats, nil
}

// Counts runs each business count query. Queries that fail are left out of
// the result and reported together in the returned error.
func (d *DB) Counts(ctx context.Context) (map[string]float64, error) {
	names := make([]string, 0, len(d.counts))
	for name := range d.counts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]float64, len(names))
	var errs []error
	for _, name := range names {
		var v sql.NullFloat64
		if err := d.db.QueryRowContext(ctx, d.counts[name]).Scan(&v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = v.Float64
	}
	return out, errors.Join(errs...)
}

// SQL returns the underlying pool.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Driver returns the driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}
