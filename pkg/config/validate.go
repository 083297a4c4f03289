package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.listen_address").
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

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateManagement(&cfg.Management, &cfg.Proxy)...)
	errs = append(errs, validateBackends(cfg.Backends)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validateKeys(&cfg.Keys)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validatePricing(cfg.Pricing)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateListenAddress(field, addr string) []FieldError {
	if addr == "" {
		return []FieldError{{Field: field, Message: "listen address is required"}}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid listen address format: %v", err)}}
	}
	return nil
}

// validateProxy validates proxy configuration.
func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateListenAddress("proxy.listen_address", cfg.ListenAddress)...)

	if cfg.ReadHeaderTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.read_header_timeout",
			Message: "read header timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.MaxReplayBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_replay_bytes",
			Message: "max replay bytes must be non-negative",
		})
	}

	return errs
}

// validateManagement validates the management listener.
func validateManagement(cfg *ManagementConfig, proxy *ProxyConfig) []FieldError {
	if !cfg.IsEnabled() {
		return nil
	}

	var errs []FieldError
	errs = append(errs, validateListenAddress("management.listen_address", cfg.ListenAddress)...)

	if cfg.ListenAddress != "" && cfg.ListenAddress == proxy.ListenAddress {
		errs = append(errs, FieldError{
			Field:   "management.listen_address",
			Message: "management API must listen on a different address than the proxy",
		})
	}
	if cfg.AdminToken == "" {
		errs = append(errs, FieldError{
			Field:   "management.admin_token",
			Message: "admin token is required when management is enabled",
		})
	} else if len(cfg.AdminToken) < 16 {
		errs = append(errs, FieldError{
			Field:   "management.admin_token",
			Message: "admin token must be at least 16 characters",
		})
	}

	return errs
}

// validateBackends validates backend configurations.
func validateBackends(backends []BackendConfig) []FieldError {
	var errs []FieldError

	if len(backends) == 0 {
		errs = append(errs, FieldError{
			Field:   "backends",
			Message: "at least one backend must be configured",
		})
		return errs
	}

	seen := make(map[string]bool, len(backends))
	defaults := 0
	for i, b := range backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if b.ID != "" {
			prefix = fmt.Sprintf("backends.%s", b.ID)
		}

		if b.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "id is required"})
		} else if seen[b.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate backend id %q", b.ID)})
		}
		seen[b.ID] = true

		if b.BaseURL == "" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "base URL is required"})
		} else if u, err := url.Parse(b.BaseURL); err != nil {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: fmt.Sprintf("invalid URL format: %v", err)})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "scheme must be http or https"})
		} else if u.Host == "" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "host is required"})
		}

		// An empty API key is allowed here; it may be injected through
		// RELAY_BACKENDS_<ID>_API_KEY after the file is parsed.

		switch b.AuthScheme {
		case AuthSchemeAPIKey, AuthSchemeBearer:
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".auth_scheme",
				Message: fmt.Sprintf("invalid auth scheme %q: must be %q or %q", b.AuthScheme, AuthSchemeAPIKey, AuthSchemeBearer),
			})
		}

		if b.MaxConcurrent < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_concurrent", Message: "max concurrent must be non-negative"})
		}
		if b.Timeout < 0 {
			errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be positive"})
		}
		if b.StreamIdleTimeout < 0 {
			errs = append(errs, FieldError{Field: prefix + ".stream_idle_timeout", Message: "stream idle timeout must be positive"})
		}
		if b.Default {
			defaults++
		}
	}

	if defaults > 1 {
		errs = append(errs, FieldError{
			Field:   "backends",
			Message: fmt.Sprintf("at most one backend may be marked default, found %d", defaults),
		})
	}

	return errs
}

// validateRouting validates routing configuration.
func validateRouting(cfg *RoutingConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   "routing.failure_threshold",
			Message: "failure threshold must be at least 1",
		})
	}
	if cfg.Cooldown < 0 {
		errs = append(errs, FieldError{
			Field:   "routing.cooldown",
			Message: "cooldown must be positive",
		})
	}
	if cfg.QueueTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "routing.queue_timeout",
			Message: "queue timeout must be non-negative",
		})
	}

	return errs
}

// validateKeys validates key authentication configuration.
func validateKeys(cfg *KeysConfig) []FieldError {
	var errs []FieldError

	for i, src := range cfg.Headers {
		if strings.TrimSpace(src.Header) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("keys.headers[%d].header", i),
				Message: "header name is required",
			})
		}
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "keys.cache_ttl", Message: "cache TTL must be non-negative"})
	}
	if cfg.DefaultRateLimit < 1 {
		errs = append(errs, FieldError{Field: "keys.default_rate_limit", Message: "default rate limit must be positive"})
	}
	if cfg.DefaultRateWindow <= 0 {
		errs = append(errs, FieldError{Field: "keys.default_rate_window", Message: "default rate window must be positive"})
	}
	if cfg.DefaultQuotaLimit < 0 {
		errs = append(errs, FieldError{Field: "keys.default_quota_limit", Message: "default quota limit must be non-negative"})
	}

	return errs
}

// validateLimits validates rate limit and quota configuration.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.RateLimit.Redis.Address == "" {
			errs = append(errs, FieldError{
				Field:   "limits.rate_limit.redis.address",
				Message: "redis address is required when backend is 'redis'",
			})
		}
		if cfg.RateLimit.Redis.BreakerFailures < 1 {
			errs = append(errs, FieldError{
				Field:   "limits.rate_limit.redis.breaker_failures",
				Message: "breaker failures must be at least 1",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.rate_limit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.RateLimit.Backend),
		})
	}
	switch cfg.RateLimit.Algorithm {
	case "sliding_window", "token_bucket":
	default:
		errs = append(errs, FieldError{
			Field:   "limits.rate_limit.algorithm",
			Message: fmt.Sprintf("invalid algorithm %q: must be 'sliding_window' or 'token_bucket'", cfg.RateLimit.Algorithm),
		})
	}
	if cfg.RateLimit.IdleTTL < 0 {
		errs = append(errs, FieldError{Field: "limits.rate_limit.idle_ttl", Message: "idle TTL must be non-negative"})
	}

	switch cfg.Quota.Unit {
	case QuotaUnitTokens, QuotaUnitRequests, QuotaUnitCost:
	default:
		errs = append(errs, FieldError{
			Field:   "limits.quota.unit",
			Message: fmt.Sprintf("invalid unit %q: must be one of tokens, requests, cost", cfg.Quota.Unit),
		})
	}
	switch cfg.Quota.Period {
	case QuotaPeriodHourly, QuotaPeriodDaily, QuotaPeriodMonthly:
	default:
		errs = append(errs, FieldError{
			Field:   "limits.quota.period",
			Message: fmt.Sprintf("invalid period %q: must be one of hourly, daily, monthly", cfg.Quota.Period),
		})
	}
	if _, err := time.LoadLocation(cfg.Quota.Timezone); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.quota.timezone",
			Message: fmt.Sprintf("unknown timezone %q: %v", cfg.Quota.Timezone, err),
		})
	}
	if cfg.Quota.EstimateFloor < 0 {
		errs = append(errs, FieldError{Field: "limits.quota.estimate_floor", Message: "estimate floor must be non-negative"})
	}

	return errs
}

// validateStorage validates the key/quota database configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "storage.path", Message: "path is required"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "busy timeout must be non-negative"})
	}
	if cfg.CheckpointInterval < 0 {
		errs = append(errs, FieldError{Field: "storage.checkpoint_interval", Message: "checkpoint interval must be non-negative"})
	}

	return errs
}

// validateUsage validates usage recording configuration.
func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	// If usage recording is disabled, skip validation
	if !cfg.IsEnabled() {
		return errs
	}

	if cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{Field: "usage.sqlite.path", Message: "path is required"})
	}
	if cfg.SQLite.MaxOpenConns < 1 {
		errs = append(errs, FieldError{Field: "usage.sqlite.max_open_conns", Message: "max open connections must be at least 1"})
	}
	if cfg.Recorder.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "usage.recorder.buffer_size", Message: "buffer size must be at least 1"})
	}
	if cfg.Recorder.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "usage.recorder.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "usage.retention.days", Message: "retention days must be non-negative"})
	}
	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "usage.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

// validatePricing validates the model price table.
func validatePricing(pricing map[string]ModelPricing) []FieldError {
	var errs []FieldError

	for model, p := range pricing {
		if p.Input < 0 || p.Output < 0 || p.CacheWrite < 0 || p.CacheRead < 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("pricing.%s", model),
				Message: "prices must be non-negative",
			})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid level %q: must be one of debug, info, warn, error", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0 and 1",
			})
		}
	}

	return errs
}

// validateSecurity validates TLS configuration.
func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_file",
				Message: "cert file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.key_file",
				Message: "key file is required when TLS is enabled",
			})
		}
		if v := cfg.TLS.MinVersion; v != "" && v != "1.2" && v != "1.3" {
			errs = append(errs, FieldError{
				Field:   "security.tls.min_version",
				Message: fmt.Sprintf("must be 1.2 or 1.3, got %q", v),
			})
		}
		if cfg.TLS.ReloadInterval < 0 {
			errs = append(errs, FieldError{
				Field:   "security.tls.reload_interval",
				Message: "must not be negative",
			})
		}
	}

	return errs
}
