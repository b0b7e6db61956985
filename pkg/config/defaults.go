package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Rate limit defaults
	DefaultRateLimitEnabled        = true
	DefaultRateLimitMaxRequests    = int64(100)
	DefaultRateLimitWindow         = time.Minute
	DefaultRateLimitKeyStrategy    = "identity"
	DefaultRateLimitIdentityHeader = "X-User-ID"
	DefaultRateLimitStoreTimeout   = 500 * time.Millisecond
	DefaultRateLimitKeyPrefix      = "ratelimit"

	// Counter store defaults
	DefaultCounterStoreBackend      = "memory"
	DefaultCounterCleanupInterval   = time.Minute
	DefaultRedisAddr                = "localhost:6379"
	DefaultRedisDialTimeout         = 5 * time.Second
	DefaultRedisReadTimeout         = 3 * time.Second
	DefaultRedisWriteTimeout        = 3 * time.Second
	DefaultCounterSQLitePath        = "data/counters.db"
	DefaultCounterSQLiteBusyTimeout = 5 * time.Second

	// Database defaults
	DefaultDatabaseDriver          = "sqlite"
	DefaultDatabaseMaxOpenConns    = 5
	DefaultDatabaseMaxIdleConns    = 2
	DefaultDatabaseConnMaxLifetime = 30 * time.Minute

	// Telemetry defaults
	DefaultLoggingLevel           = "info"
	DefaultLoggingFormat          = "json"
	DefaultMetricsEnabled         = true
	DefaultPrometheusPath         = "/metrics"
	DefaultCollectionInterval     = 30 * time.Second
	DefaultProbeTimeout           = 5 * time.Second
	DefaultMetricsRetention       = time.Hour
	DefaultHistogramSize          = 1000
	DefaultAlertErrorRate         = 0.05
	DefaultAlertResponseTime      = 5 * time.Second
	DefaultAlertMemoryUsage       = 0.9
	DefaultMaxSamplesPerOperation = 1000
	DefaultSampleRetention        = time.Hour
	DefaultMaxErrorKeys           = 1000
	DefaultKeepErrorKeys          = 500
	DefaultTracingSampler         = "ratio"
	DefaultTracingSampleRatio     = 0.1
	DefaultTracingServiceName     = "tollgate"
	DefaultTracingOTLPTimeout     = 10 * time.Second
	DefaultHealthPath             = "/health"
	DefaultHealthLivenessPath     = "/health/live"
	DefaultHealthReadinessPath    = "/health/ready"
	DefaultHealthCheckTimeout     = 5 * time.Second
	DefaultCleanupSchedule        = "*/5 * * * *"

	// Notify defaults
	DefaultNotifySink      = "log"
	DefaultNotifyTimeout   = 5 * time.Second
	DefaultMQTTClientID    = "tollgate"
	DefaultMQTTTopicPrefix = "tollgate"
	DefaultMQTTQoS         = byte(1)

	// Watch defaults
	DefaultWatchDebounce = 250 * time.Millisecond
)

// Defaults returns a Config populated with every default, including the
// boolean switches that default to true. LoadConfig decodes YAML on top of
// this value so that an absent key keeps its default while an explicit
// false is preserved.
func Defaults() *Config {
	cfg := &Config{}
	cfg.RateLimit.Enabled = DefaultRateLimitEnabled
	cfg.RateLimit.StandardHeaders = true
	cfg.RateLimit.LegacyHeaders = true
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Tracing.OTLP.Insecure = true
	cfg.Notify.MQTT.QoS = DefaultMQTTQoS
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	applyRateLimitDefaults(&cfg.RateLimit)
	applyCounterStoreDefaults(&cfg.CounterStore)

	// Database defaults
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultDatabaseMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = DefaultDatabaseMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = DefaultDatabaseConnMaxLifetime
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Notify defaults
	if cfg.Notify.Sink == "" {
		cfg.Notify.Sink = DefaultNotifySink
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = DefaultNotifyTimeout
	}
	if cfg.Notify.MQTT.ClientID == "" {
		cfg.Notify.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.Notify.MQTT.TopicPrefix == "" {
		cfg.Notify.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
}

func applyRateLimitDefaults(rl *RateLimitConfig) {
	if rl.Default.MaxRequests == 0 {
		rl.Default.MaxRequests = DefaultRateLimitMaxRequests
	}
	if rl.Default.Window == 0 {
		rl.Default.Window = DefaultRateLimitWindow
	}
	if rl.KeyStrategy == "" {
		rl.KeyStrategy = DefaultRateLimitKeyStrategy
	}
	if rl.IdentityHeader == "" {
		rl.IdentityHeader = DefaultRateLimitIdentityHeader
	}
	if rl.StoreTimeout == 0 {
		rl.StoreTimeout = DefaultRateLimitStoreTimeout
	}
	if rl.KeyPrefix == "" {
		rl.KeyPrefix = DefaultRateLimitKeyPrefix
	}
}

func applyCounterStoreDefaults(cs *CounterStoreConfig) {
	if cs.Backend == "" {
		cs.Backend = DefaultCounterStoreBackend
	}
	if cs.Memory.CleanupInterval == 0 {
		cs.Memory.CleanupInterval = DefaultCounterCleanupInterval
	}
	if cs.Redis.Addr == "" {
		cs.Redis.Addr = DefaultRedisAddr
	}
	if cs.Redis.DialTimeout == 0 {
		cs.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cs.Redis.ReadTimeout == 0 {
		cs.Redis.ReadTimeout = DefaultRedisReadTimeout
	}
	if cs.Redis.WriteTimeout == 0 {
		cs.Redis.WriteTimeout = DefaultRedisWriteTimeout
	}
	if cs.SQLite.Path == "" {
		cs.SQLite.Path = DefaultCounterSQLitePath
	}
	if cs.SQLite.BusyTimeout == 0 {
		cs.SQLite.BusyTimeout = DefaultCounterSQLiteBusyTimeout
	}
	if cs.SQLite.CleanupInterval == 0 {
		cs.SQLite.CleanupInterval = DefaultCounterCleanupInterval
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}
	if t.Metrics.CollectionInterval == 0 {
		t.Metrics.CollectionInterval = DefaultCollectionInterval
	}
	if t.Metrics.ProbeTimeout == 0 {
		t.Metrics.ProbeTimeout = DefaultProbeTimeout
	}
	if t.Metrics.Retention == 0 {
		t.Metrics.Retention = DefaultMetricsRetention
	}
	if t.Metrics.HistogramSize == 0 {
		t.Metrics.HistogramSize = DefaultHistogramSize
	}

	if t.Errors.Alerts.ErrorRate == 0 {
		t.Errors.Alerts.ErrorRate = DefaultAlertErrorRate
	}
	if t.Errors.Alerts.ResponseTime == 0 {
		t.Errors.Alerts.ResponseTime = DefaultAlertResponseTime
	}
	if t.Errors.Alerts.MemoryUsage == 0 {
		t.Errors.Alerts.MemoryUsage = DefaultAlertMemoryUsage
	}
	if t.Errors.MaxSamplesPerOperation == 0 {
		t.Errors.MaxSamplesPerOperation = DefaultMaxSamplesPerOperation
	}
	if t.Errors.SampleRetention == 0 {
		t.Errors.SampleRetention = DefaultSampleRetention
	}
	if t.Errors.MaxErrorKeys == 0 {
		t.Errors.MaxErrorKeys = DefaultMaxErrorKeys
	}
	if t.Errors.KeepErrorKeys == 0 {
		t.Errors.KeepErrorKeys = DefaultKeepErrorKeys
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultTracingOTLPTimeout
	}

	if t.Health.Path == "" {
		t.Health.Path = DefaultHealthPath
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultHealthReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}

	if t.Cleanup.Schedule == "" {
		t.Cleanup.Schedule = DefaultCleanupSchedule
	}
}
