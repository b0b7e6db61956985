package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateCounterStore(&cfg.CounterStore)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateNotify(&cfg.Notify)...)

	if cfg.Watch.Debounce < 0 {
		errs = append(errs, FieldError{
			Field:   "watch.debounce",
			Message: "debounce must be non-negative",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.idle_timeout", cfg.IdleTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.value < 0 {
			errs = append(errs, FieldError{
				Field:   t.field,
				Message: "timeout must be positive",
			})
		}
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateQuota("ratelimit.default", &cfg.Default, false)...)

	seen := make(map[string]bool, len(cfg.Routes))
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		prefix := fmt.Sprintf("ratelimit.routes[%d]", i)

		if route.PathPrefix == "" || route.PathPrefix[0] != '/' {
			errs = append(errs, FieldError{
				Field:   prefix + ".path_prefix",
				Message: "path prefix must start with /",
			})
		} else if seen[route.PathPrefix] {
			errs = append(errs, FieldError{
				Field:   prefix + ".path_prefix",
				Message: fmt.Sprintf("duplicate path prefix %q", route.PathPrefix),
			})
		}
		seen[route.PathPrefix] = true

		errs = append(errs, validateQuota(prefix+".quota", &route.Quota, true)...)
	}

	validStrategies := map[string]bool{"identity": true, "ip": true}
	if !validStrategies[cfg.KeyStrategy] {
		errs = append(errs, FieldError{
			Field:   "ratelimit.key_strategy",
			Message: fmt.Sprintf("invalid key strategy %q: must be 'identity' or 'ip'", cfg.KeyStrategy),
		})
	}
	if cfg.KeyStrategy == "identity" && cfg.IdentityHeader == "" {
		errs = append(errs, FieldError{
			Field:   "ratelimit.identity_header",
			Message: "identity header is required for the identity key strategy",
		})
	}

	if cfg.StoreTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "ratelimit.store_timeout",
			Message: "store timeout must be positive",
		})
	}
	if strings.ContainsAny(cfg.KeyPrefix, "*?[") {
		errs = append(errs, FieldError{
			Field:   "ratelimit.key_prefix",
			Message: "key prefix must not contain glob characters",
		})
	}

	return errs
}

// validateQuota checks a quota. Route quotas may leave fields at zero to
// inherit from the default quota.
func validateQuota(prefix string, q *QuotaConfig, inherit bool) []FieldError {
	var errs []FieldError

	if q.MaxRequests < 0 || (!inherit && q.MaxRequests == 0) {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_requests",
			Message: "max requests must be positive",
		})
	}
	if q.Window < 0 || (!inherit && q.Window == 0) {
		errs = append(errs, FieldError{
			Field:   prefix + ".window",
			Message: "window must be positive",
		})
	} else if q.Window > 0 && q.Window < time.Millisecond {
		errs = append(errs, FieldError{
			Field:   prefix + ".window",
			Message: "window must be at least 1ms",
		})
	}
	if q.BlockDuration < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".block_duration",
			Message: "block duration must be non-negative",
		})
	}
	if q.SkipSuccessfulRequests && q.SkipFailedRequests {
		errs = append(errs, FieldError{
			Field:   prefix,
			Message: "skip_successful_requests and skip_failed_requests cannot both be set",
		})
	}

	return errs
}

func validateCounterStore(cfg *CounterStoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
		if cfg.Memory.CleanupInterval < 0 {
			errs = append(errs, FieldError{
				Field:   "counter_store.memory.cleanup_interval",
				Message: "cleanup interval must be non-negative",
			})
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{
				Field:   "counter_store.redis.addr",
				Message: "redis address is required when backend is 'redis'",
			})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{
				Field:   "counter_store.redis.db",
				Message: "redis db must be non-negative",
			})
		}
		if cfg.Redis.PoolSize < 0 {
			errs = append(errs, FieldError{
				Field:   "counter_store.redis.pool_size",
				Message: "pool size must be non-negative",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "counter_store.sqlite.path",
				Message: "sqlite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "counter_store.sqlite.busy_timeout",
				Message: "busy timeout must be non-negative",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "counter_store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'redis', or 'sqlite'", cfg.Backend),
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	validDrivers := map[string]bool{"sqlite": true, "pgx": true}
	if !validDrivers[cfg.Driver] {
		errs = append(errs, FieldError{
			Field:   "database.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'pgx'", cfg.Driver),
		})
	}
	if cfg.DSN == "" {
		errs = append(errs, FieldError{
			Field:   "database.dsn",
			Message: "dsn is required when the database is enabled",
		})
	}
	if cfg.MaxOpenConns < 0 {
		errs = append(errs, FieldError{
			Field:   "database.max_open_conns",
			Message: "max open connections must be non-negative",
		})
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns && cfg.MaxOpenConns > 0 {
		errs = append(errs, FieldError{
			Field:   "database.max_idle_conns",
			Message: "max idle connections cannot exceed max open connections",
		})
	}
	for i, table := range cfg.Tables {
		if !isIdentifier(table) {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("database.tables[%d]", i),
				Message: fmt.Sprintf("invalid table name %q", table),
			})
		}
	}
	for name, query := range cfg.BusinessCounts {
		if !isIdentifier(name) {
			errs = append(errs, FieldError{
				Field:   "database.business_counts." + name,
				Message: "gauge name must be a valid identifier",
			})
		}
		if strings.TrimSpace(query) == "" {
			errs = append(errs, FieldError{
				Field:   "database.business_counts." + name,
				Message: "query is required",
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	// Validate metrics
	paths := map[string]string{
		"telemetry.metrics.path":          cfg.Metrics.Path,
		"telemetry.health.path":           cfg.Health.Path,
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
	}
	for field, path := range paths {
		if path == "" || path[0] != '/' {
			errs = append(errs, FieldError{
				Field:   field,
				Message: "path must start with /",
			})
		}
	}
	if cfg.Metrics.CollectionInterval < time.Second {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.collection_interval",
			Message: "collection interval must be at least 1s",
		})
	}
	if cfg.Metrics.ProbeTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.probe_timeout",
			Message: "probe timeout must be positive",
		})
	}
	if cfg.Metrics.Retention <= 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.retention",
			Message: "retention must be positive",
		})
	}
	if cfg.Metrics.HistogramSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.histogram_size",
			Message: "histogram size must be positive",
		})
	}

	// Validate error tracking
	if cfg.Errors.Alerts.ErrorRate < 0 || cfg.Errors.Alerts.ErrorRate > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.errors.alerts.error_rate",
			Message: "error rate threshold must be between 0.0 and 1.0",
		})
	}
	if cfg.Errors.Alerts.MemoryUsage < 0 || cfg.Errors.Alerts.MemoryUsage > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.errors.alerts.memory_usage",
			Message: "memory usage threshold must be between 0.0 and 1.0",
		})
	}
	if cfg.Errors.Alerts.ResponseTime < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.errors.alerts.response_time",
			Message: "response time threshold must be positive",
		})
	}
	if cfg.Errors.KeepErrorKeys > cfg.Errors.MaxErrorKeys {
		errs = append(errs, FieldError{
			Field:   "telemetry.errors.keep_error_keys",
			Message: "keep_error_keys cannot exceed max_error_keys",
		})
	}
	if cfg.Errors.MaxSamplesPerOperation < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.errors.max_samples_per_operation",
			Message: "max samples per operation must be non-negative",
		})
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	// Validate health check configuration
	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}
	if cfg.Health.CheckTimeout > 60*time.Second {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout exceeds reasonable limit (60s)",
		})
	}

	// Validate cleanup schedule
	if _, err := cron.ParseStandard(cfg.Cleanup.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "telemetry.cleanup.schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	return errs
}

func validateNotify(cfg *NotifyConfig) []FieldError {
	var errs []FieldError

	switch cfg.Sink {
	case "log", "none":
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			errs = append(errs, FieldError{
				Field:   "notify.mqtt.broker",
				Message: "broker is required when sink is 'mqtt'",
			})
		} else if u, err := url.Parse(cfg.MQTT.Broker); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "notify.mqtt.broker",
				Message: fmt.Sprintf("invalid broker URL %q", cfg.MQTT.Broker),
			})
		}
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, FieldError{
				Field:   "notify.mqtt.qos",
				Message: "qos must be 0, 1, or 2",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "notify.sink",
			Message: fmt.Sprintf("invalid sink %q: must be 'log', 'mqtt', or 'none'", cfg.Sink),
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "notify.timeout",
			Message: "timeout must be positive",
		})
	}

	return errs
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
