package config

import (
	"fmt"
	"sync"
)

var (
	// globalConfig holds the singleton configuration instance.
	globalConfig *Config

	// globalPath is the file the singleton was loaded from.
	globalPath string

	// configMutex protects globalConfig, globalPath and subscribers.
	configMutex sync.RWMutex

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once

	subscribers []func(*Config)
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global singleton configuration.
// Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}

		configMutex.Lock()
		globalConfig = cfg
		globalPath = path
		configMutex.Unlock()
	})

	return initErr
}

// GetConfig returns the global configuration instance, or nil if Initialize
// has not been called successfully.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig sets the global configuration instance. Intended for tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// OnReload registers fn to be called with the new configuration after every
// successful ReloadConfig. Callbacks run synchronously in registration order.
func OnReload(fn func(*Config)) {
	configMutex.Lock()
	defer configMutex.Unlock()
	subscribers = append(subscribers, fn)
}

// ReloadConfig reloads the configuration from path, or from the path given
// to Initialize when path is empty. The global instance is replaced only if
// loading and validation succeed; on failure the previous configuration
// stays in effect.
func ReloadConfig(path string) error {
	configMutex.RLock()
	if path == "" {
		path = globalPath
	}
	configMutex.RUnlock()

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = cfg
	globalPath = path
	fns := make([]func(*Config), len(subscribers))
	copy(fns, subscribers)
	configMutex.Unlock()

	for _, fn := range fns {
		fn(cfg)
	}

	return nil
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
