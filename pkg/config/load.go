package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix shared by every environment override.
const EnvPrefix = "TOLLGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Defaults, zero-valued fields are filled in,
// and the result is validated. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML bytes into a Config with defaults applied. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOLLGATE_SECTION_FIELD (e.g., TOLLGATE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from Defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Defaults()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric, boolean and duration values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envString("SERVER_ADMIN_TOKEN", &cfg.Server.AdminToken)

	// Rate limit overrides
	envBool("RATELIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envInt64("RATELIMIT_MAX_REQUESTS", &cfg.RateLimit.Default.MaxRequests)
	envDuration("RATELIMIT_WINDOW", &cfg.RateLimit.Default.Window)
	envDuration("RATELIMIT_BLOCK_DURATION", &cfg.RateLimit.Default.BlockDuration)
	envString("RATELIMIT_KEY_STRATEGY", &cfg.RateLimit.KeyStrategy)
	envString("RATELIMIT_IDENTITY_HEADER", &cfg.RateLimit.IdentityHeader)
	envBool("RATELIMIT_TRUST_IDENTITY_HEADER", &cfg.RateLimit.TrustIdentityHeader)
	envBool("RATELIMIT_TRUST_FORWARDED_FOR", &cfg.RateLimit.TrustForwardedFor)
	envDuration("RATELIMIT_STORE_TIMEOUT", &cfg.RateLimit.StoreTimeout)

	// Counter store overrides
	envString("COUNTER_STORE_BACKEND", &cfg.CounterStore.Backend)
	envString("COUNTER_STORE_REDIS_ADDR", &cfg.CounterStore.Redis.Addr)
	envString("COUNTER_STORE_REDIS_USERNAME", &cfg.CounterStore.Redis.Username)
	envString("COUNTER_STORE_REDIS_PASSWORD", &cfg.CounterStore.Redis.Password)
	envInt("COUNTER_STORE_REDIS_DB", &cfg.CounterStore.Redis.DB)
	envString("COUNTER_STORE_SQLITE_PATH", &cfg.CounterStore.SQLite.Path)

	// Database overrides
	envBool("DATABASE_ENABLED", &cfg.Database.Enabled)
	envString("DATABASE_DRIVER", &cfg.Database.Driver)
	envString("DATABASE_DSN", &cfg.Database.DSN)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envDuration("TELEMETRY_METRICS_COLLECTION_INTERVAL", &cfg.Telemetry.Metrics.CollectionInterval)
	envFloat("TELEMETRY_ERRORS_ALERTS_ERROR_RATE", &cfg.Telemetry.Errors.Alerts.ErrorRate)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	envString("TELEMETRY_CLEANUP_SCHEDULE", &cfg.Telemetry.Cleanup.Schedule)

	// Notify overrides
	envString("NOTIFY_SINK", &cfg.Notify.Sink)
	envString("NOTIFY_MQTT_BROKER", &cfg.Notify.MQTT.Broker)
	envString("NOTIFY_MQTT_USERNAME", &cfg.Notify.MQTT.Username)
	envString("NOTIFY_MQTT_PASSWORD", &cfg.Notify.MQTT.Password)

	envBool("WATCH_ENABLED", &cfg.Watch.Enabled)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
