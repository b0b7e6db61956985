// Package config provides configuration management for Tollgate.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD.
// For example:
//
//   - TOLLGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TOLLGATE_COUNTER_STORE_BACKEND overrides counter_store.backend
//   - TOLLGATE_RATELIMIT_MAX_REQUESTS overrides ratelimit.default.max_requests
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Boolean switches that default to true (ratelimit.enabled,
// telemetry.metrics.enabled and friends) keep their default when the key is
// absent and honour an explicit false.
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and calls back after
// a debounce period. Combined with ReloadConfig and OnReload this lets quotas
// change without a restart:
//
//	config.OnReload(func(cfg *config.Config) { admission.SetRules(...) })
//	w, _ := config.NewWatcher(path, cfg.Watch.Debounce, logger)
//	go w.Watch(ctx, func() error { return config.ReloadConfig("") })
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	ratelimit:
//	  default:
//	    max_requests: 100
//	    window: 15m
//	    block_duration: 5m
//	  routes:
//	    - path_prefix: /api/auth
//	      quota:
//	        max_requests: 5
//	        window: 15m
//
//	counter_store:
//	  backend: redis
//	  redis:
//	    addr: "localhost:6379"
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
//
// # Thread Safety
//
// All singleton access is thread-safe. Reads take a shared lock; reloads
// swap the whole Config pointer.
package config
