// Package config provides configuration management for Relay.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("relay.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD.
// For example:
//
//   - RELAY_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - RELAY_BACKENDS_PRIMARY_API_KEY overrides the api_key of backend "primary"
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Backend ids are upper-cased and '-' or '.' become '_'.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and reloads it after
// writes settle. An invalid file is rejected and the running configuration is
// kept. Listener addresses and storage paths only take effect on restart;
// backends, routing thresholds, pricing and the log level are applied live.
//
// # Singleton Pattern
//
//	if err := config.Initialize("relay.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
//
// For testing, prefer dependency injection with explicit Config instances
// rather than the global singleton.
package config
