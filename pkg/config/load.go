package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "RELAY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_PROXY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML bytes and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format RELAY_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	envString("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	envDuration("PROXY_READ_HEADER_TIMEOUT", &cfg.Proxy.ReadHeaderTimeout)
	envDuration("PROXY_IDLE_TIMEOUT", &cfg.Proxy.IdleTimeout)
	envDuration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Proxy.ShutdownTimeout)
	envInt("PROXY_MAX_HEADER_BYTES", &cfg.Proxy.MaxHeaderBytes)
	envInt64("PROXY_MAX_REPLAY_BYTES", &cfg.Proxy.MaxReplayBytes)

	// Management overrides
	envBoolPtr("MANAGEMENT_ENABLED", &cfg.Management.Enabled)
	envString("MANAGEMENT_LISTEN_ADDRESS", &cfg.Management.ListenAddress)
	envString("MANAGEMENT_ADMIN_TOKEN", &cfg.Management.AdminToken)

	// Backend overrides, addressed by upper-cased id with '-' mapped to '_'
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		key := "BACKENDS_" + envName(b.ID) + "_"
		envString(key+"API_KEY", &b.APIKey)
		envString(key+"BASE_URL", &b.BaseURL)
		envInt(key+"MAX_CONCURRENT", &b.MaxConcurrent)
		envDuration(key+"TIMEOUT", &b.Timeout)
	}

	// Routing overrides
	envBool("ROUTING_STRICT", &cfg.Routing.Strict)
	envInt("ROUTING_FAILURE_THRESHOLD", &cfg.Routing.FailureThreshold)
	envDuration("ROUTING_COOLDOWN", &cfg.Routing.Cooldown)
	envDuration("ROUTING_QUEUE_TIMEOUT", &cfg.Routing.QueueTimeout)
	envBoolPtr("ROUTING_FAILOVER", &cfg.Routing.Failover)

	// Key overrides
	envDuration("KEYS_CACHE_TTL", &cfg.Keys.CacheTTL)
	envInt("KEYS_DEFAULT_RATE_LIMIT", &cfg.Keys.DefaultRateLimit)
	envDuration("KEYS_DEFAULT_RATE_WINDOW", &cfg.Keys.DefaultRateWindow)
	envInt64("KEYS_DEFAULT_QUOTA_LIMIT", &cfg.Keys.DefaultQuotaLimit)

	// Limits overrides
	envString("LIMITS_RATE_LIMIT_BACKEND", &cfg.Limits.RateLimit.Backend)
	envString("LIMITS_RATE_LIMIT_ALGORITHM", &cfg.Limits.RateLimit.Algorithm)
	envString("LIMITS_RATE_LIMIT_REDIS_ADDRESS", &cfg.Limits.RateLimit.Redis.Address)
	envString("LIMITS_RATE_LIMIT_REDIS_PASSWORD", &cfg.Limits.RateLimit.Redis.Password)
	envInt("LIMITS_RATE_LIMIT_REDIS_DB", &cfg.Limits.RateLimit.Redis.DB)
	envString("LIMITS_QUOTA_UNIT", &cfg.Limits.Quota.Unit)
	envString("LIMITS_QUOTA_PERIOD", &cfg.Limits.Quota.Period)
	envString("LIMITS_QUOTA_TIMEZONE", &cfg.Limits.Quota.Timezone)
	envInt64("LIMITS_QUOTA_ESTIMATE_FLOOR", &cfg.Limits.Quota.EstimateFloor)

	// Storage overrides
	envString("STORAGE_PATH", &cfg.Storage.Path)

	// Usage overrides
	envBoolPtr("USAGE_ENABLED", &cfg.Usage.Enabled)
	envString("USAGE_SQLITE_PATH", &cfg.Usage.SQLite.Path)
	envInt("USAGE_RECORDER_BUFFER_SIZE", &cfg.Usage.Recorder.BufferSize)
	envInt("USAGE_RETENTION_DAYS", &cfg.Usage.Retention.Days)
	envString("USAGE_RETENTION_SCHEDULE", &cfg.Usage.Retention.Schedule)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Security overrides
	envBool("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
}

// envName converts a backend id into its environment variable form.
func envName(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

func envString(name string, dst *string) {
	if val := os.Getenv(envPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}
