package config

import "time"

// Config is the root configuration structure for Tollgate.
// It contains all configuration sections for the HTTP server, the rate
// limiter and its counter store, the polled database, telemetry, and alert
// forwarding.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and header limits.
	Server ServerConfig `yaml:"server"`

	// RateLimit contains quotas, key resolution and response header settings
	// for the admission filter.
	RateLimit RateLimitConfig `yaml:"ratelimit"`

	// CounterStore selects and configures the atomic counter store backing
	// the rate limiter.
	CounterStore CounterStoreConfig `yaml:"counter_store"`

	// Database configures the relational database polled for health and
	// business gauges.
	Database DatabaseConfig `yaml:"database"`

	// Telemetry contains configuration for observability including logging,
	// metrics collection, error tracking, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Notify configures where alerts and captured errors are forwarded.
	Notify NotifyConfig `yaml:"notify"`

	// Watch configures hot reloading of this file.
	Watch WatchConfig `yaml:"watch"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// AdminToken, when set, is required as a bearer token on /admin routes.
	AdminToken string `yaml:"admin_token"`
}

// RateLimitConfig contains configuration for the admission filter.
type RateLimitConfig struct {
	// Enabled controls whether the admission filter is installed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Default is the quota applied to routes without a more specific rule.
	Default QuotaConfig `yaml:"default"`

	// Routes contains per-path quotas. The longest matching prefix wins.
	Routes []RouteQuotaConfig `yaml:"routes"`

	// KeyStrategy selects how the rate limit key is resolved.
	// Options: "identity" (authenticated caller identity, falling back to
	// client IP), "ip"
	// Default: "identity"
	KeyStrategy string `yaml:"key_strategy"`

	// IdentityHeader is the request header carrying the caller identity.
	// Default: "X-User-ID"
	IdentityHeader string `yaml:"identity_header"`

	// TrustIdentityHeader keys requests by IdentityHeader. Enable only when
	// an authenticating gateway sets the header and strips client copies.
	// Otherwise only identities attached with middleware.WithIdentity count.
	// Default: false
	TrustIdentityHeader bool `yaml:"trust_identity_header"`

	// TrustForwardedFor uses the first X-Forwarded-For address as the client
	// IP. Enable only behind a trusted proxy.
	// Default: false
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// StandardHeaders emits RateLimit-Limit, RateLimit-Remaining and
	// RateLimit-Reset.
	// Default: true
	StandardHeaders bool `yaml:"standard_headers"`

	// LegacyHeaders emits X-RateLimit-Limit, X-RateLimit-Remaining and
	// X-RateLimit-Reset.
	// Default: true
	LegacyHeaders bool `yaml:"legacy_headers"`

	// StoreTimeout bounds each counter store call made by the limiter.
	// Default: 500ms
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// KeyPrefix namespaces limiter keys in the counter store.
	// Default: "ratelimit"
	KeyPrefix string `yaml:"key_prefix"`
}

// QuotaConfig is a fixed-window quota.
type QuotaConfig struct {
	// MaxRequests is the number of requests admitted per window.
	// Default: 100
	MaxRequests int64 `yaml:"max_requests"`

	// Window is the fixed window length.
	// Default: 1m
	Window time.Duration `yaml:"window"`

	// BlockDuration blocks a key for this long once it exceeds its quota.
	// Zero disables blocking.
	BlockDuration time.Duration `yaml:"block_duration"`

	// SkipSuccessfulRequests does not count responses with status < 400.
	SkipSuccessfulRequests bool `yaml:"skip_successful_requests"`

	// SkipFailedRequests does not count responses with status >= 400.
	SkipFailedRequests bool `yaml:"skip_failed_requests"`
}

// RouteQuotaConfig applies a quota to requests whose path starts with PathPrefix.
type RouteQuotaConfig struct {
	// PathPrefix is matched against the request path.
	PathPrefix string `yaml:"path_prefix"`

	// Quota is the quota for matching requests. Zero fields inherit the default.
	Quota QuotaConfig `yaml:"quota"`
}

// CounterStoreConfig selects the atomic counter store backend.
type CounterStoreConfig struct {
	// Backend is the storage backend.
	// Options: "memory", "redis", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory contains memory backend configuration.
	Memory CounterMemoryConfig `yaml:"memory"`

	// Redis contains Redis backend configuration.
	Redis RedisConfig `yaml:"redis"`

	// SQLite contains SQLite backend configuration.
	SQLite CounterSQLiteConfig `yaml:"sqlite"`
}

// CounterMemoryConfig contains memory counter store configuration.
type CounterMemoryConfig struct {
	// CleanupInterval is how often expired counters are purged.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis host:port.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Username for Redis ACL authentication.
	Username string `yaml:"username"`

	// Password for Redis authentication.
	Password string `yaml:"password"`

	// DB is the logical database number.
	// Default: 0
	DB int `yaml:"db"`

	// PoolSize is the maximum number of connections.
	// Default: 0 (go-redis default of 10 per CPU)
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout bounds socket reads.
	// Default: 3s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds socket writes.
	// Default: 3s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CounterSQLiteConfig contains SQLite counter store configuration.
type CounterSQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: "data/counters.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CleanupInterval is how often expired counters are purged.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DatabaseConfig configures the database polled by the metrics collector.
type DatabaseConfig struct {
	// Enabled controls whether a database is polled at all.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Driver is the database/sql driver.
	// Options: "sqlite", "pgx"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 5
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 2
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	// Default: 30m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// Tables lists tables whose row counts are exported as gauges.
	Tables []string `yaml:"tables"`

	// BusinessCounts maps gauge names to SQL queries returning one number.
	// Example: {"posts_pending_approval": "SELECT COUNT(*) FROM posts WHERE status = 'pending'"}
	BusinessCounts map[string]string `yaml:"business_counts"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Errors contains error tracking and alerting configuration.
	Errors ErrorsConfig `yaml:"errors"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`

	// Cleanup contains the retention sweep schedule.
	Cleanup CleanupConfig `yaml:"cleanup"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables PII redaction of logged and forwarded error messages.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the periodic collection loop runs.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus text export.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// CollectionInterval is how often system and dependency gauges refresh.
	// Default: 30s
	CollectionInterval time.Duration `yaml:"collection_interval"`

	// ProbeTimeout bounds each dependency probe in a collection cycle.
	// Default: 5s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Retention is how long gauge samples and histogram observations are kept.
	// Default: 1h
	Retention time.Duration `yaml:"retention"`

	// HistogramSize caps the observations retained per histogram.
	// Default: 1000
	HistogramSize int `yaml:"histogram_size"`
}

// ErrorsConfig contains error tracking configuration.
type ErrorsConfig struct {
	// Alerts contains alert thresholds.
	Alerts AlertThresholdsConfig `yaml:"alerts"`

	// MaxSamplesPerOperation caps performance samples per operation.
	// Default: 1000
	MaxSamplesPerOperation int `yaml:"max_samples_per_operation"`

	// SampleRetention is how long performance samples are kept.
	// Default: 1h
	SampleRetention time.Duration `yaml:"sample_retention"`

	// MaxErrorKeys is the distinct error count that triggers trimming.
	// Default: 1000
	MaxErrorKeys int `yaml:"max_error_keys"`

	// KeepErrorKeys is how many of the most frequent errors survive trimming.
	// Default: 500
	KeepErrorKeys int `yaml:"keep_error_keys"`

	// IgnoreMessages extends the built-in list of error message fragments
	// that are not forwarded.
	IgnoreMessages []string `yaml:"ignore_messages"`
}

// AlertThresholdsConfig contains alert thresholds.
type AlertThresholdsConfig struct {
	// ErrorRate is the errors/(errors+operations) ratio that triggers an alert.
	// Default: 0.05
	ErrorRate float64 `yaml:"error_rate"`

	// ResponseTime is the duration above which an operation is reported slow.
	// Default: 5s
	ResponseTime time.Duration `yaml:"response_time"`

	// MemoryUsage is the memory ratio that triggers an alert.
	// Default: 0.9
	MemoryUsage float64 `yaml:"memory_usage"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1 (10%)
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Path serves the aggregated health verdict.
	// Default: "/health"
	Path string `yaml:"path"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health/live"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/health/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual readiness checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// CleanupConfig contains the retention sweep schedule.
type CleanupConfig struct {
	// Schedule is a standard cron expression.
	// Default: "*/5 * * * *"
	Schedule string `yaml:"schedule"`
}

// NotifyConfig configures alert and error forwarding.
type NotifyConfig struct {
	// Sink selects the destination.
	// Options: "log", "mqtt", "none"
	// Default: "log"
	Sink string `yaml:"sink"`

	// Timeout bounds each publish.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MQTT contains MQTT sink configuration.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker configuration.
type MQTTConfig struct {
	// Broker is the broker URL.
	// Example: "tcp://localhost:1883", "ssl://broker:8883"
	Broker string `yaml:"broker"`

	// ClientID identifies this process to the broker.
	// Default: "tollgate"
	ClientID string `yaml:"client_id"`

	// Username for broker authentication.
	Username string `yaml:"username"`

	// Password for broker authentication.
	Password string `yaml:"password"`

	// TopicPrefix prefixes the alert and error topics.
	// Default: "tollgate"
	TopicPrefix string `yaml:"topic_prefix"`

	// QoS is the publish quality of service (0, 1 or 2).
	// Default: 1
	QoS byte `yaml:"qos"`

	// CAFile enables TLS with the given CA bundle.
	CAFile string `yaml:"ca_file"`

	// InsecureSkipVerify disables broker certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// WatchConfig configures hot reloading.
type WatchConfig struct {
	// Enabled reloads the configuration file when it changes.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period before a reload is triggered.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}
