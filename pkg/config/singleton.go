package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// current holds the process-wide configuration.
	current atomic.Pointer[Config]

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once
)

// Initialize loads configuration from path with environment overrides and
// stores it as the process-wide configuration. Only the first call has any
// effect; later calls return nil without reloading.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})

	return initErr
}

// GetConfig returns the process-wide configuration, or nil before Initialize
// succeeds. The returned value must be treated as read-only.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the process-wide configuration. It is used by the
// file watcher and by tests.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig reloads the configuration from path. The running
// configuration is replaced only if loading and validation succeed.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return nil
}

// MustGetConfig returns the process-wide configuration and panics if it has
// not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
