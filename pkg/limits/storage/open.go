package storage

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/config"
)

// Open creates the Store selected by opts.Backend.
// An empty backend selects the memory store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStoreWithConfig(opts.Memory), nil
	case BackendRedis:
		store, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := NewSQLiteStoreWithConfig(opts.SQLite)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown counter store backend %q", opts.Backend)
	}
}

// OptionsFrom maps the counter_store section of the configuration file.
func OptionsFrom(cfg config.CounterStoreConfig) Options {
	return Options{
		Backend: cfg.Backend,
		Memory: MemoryStoreConfig{
			CleanupInterval: cfg.Memory.CleanupInterval,
		},
		Redis: RedisStoreConfig{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		},
		SQLite: SQLiteStoreConfig{
			DBPath:          cfg.SQLite.Path,
			CleanupInterval: cfg.SQLite.CleanupInterval,
			BusyTimeout:     cfg.SQLite.BusyTimeout,
		},
	}
}
