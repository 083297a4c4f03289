package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress     = "127.0.0.1:8000"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1048576 // 1MB
	DefaultMaxReplayBytes    = int64(4 << 20)

	// Management defaults
	DefaultManagementListenAddress = "127.0.0.1:8081"

	// Backend defaults
	DefaultBackendAuthScheme        = AuthSchemeAPIKey
	DefaultBackendMaxConcurrent     = 64
	DefaultBackendTimeout           = 60 * time.Second
	DefaultBackendStreamIdleTimeout = 120 * time.Second
	DefaultAnthropicVersion         = "2023-06-01"

	// Routing defaults
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
	DefaultQueueTimeout     = 250 * time.Millisecond

	// Key defaults
	DefaultKeyCacheTTL      = 30 * time.Second
	DefaultKeyRateLimit     = 1000
	DefaultKeyRateWindow    = time.Hour
	DefaultKeyQuotaLimit    = int64(100000)
	DefaultRateLimitBackend = "memory"
	DefaultRateLimitAlgo    = "sliding_window"
	DefaultRateLimitIdleTTL = 10 * time.Minute

	// Redis defaults
	DefaultRedisPrefix           = "relay:rl:"
	DefaultRedisDialTimeout      = 2 * time.Second
	DefaultRedisOperationTimeout = 100 * time.Millisecond
	DefaultRedisBreakerFailures  = 5
	DefaultRedisBreakerTimeout   = 30 * time.Second

	// Quota defaults
	DefaultQuotaUnit     = QuotaUnitTokens
	DefaultQuotaPeriod   = QuotaPeriodDaily
	DefaultQuotaTimezone = "UTC"

	// Storage defaults
	DefaultStoragePath        = "data/relay.db"
	DefaultStorageBusyTimeout = 5 * time.Second
	DefaultCheckpointInterval = 5 * time.Minute

	// Usage defaults
	DefaultUsageSQLitePath         = "data/usage.db"
	DefaultUsageSQLiteMaxOpenConns = 4
	DefaultRecorderBufferSize      = 4096
	DefaultRecorderWriteTimeout    = 5 * time.Second
	DefaultRetentionDays           = 90
	DefaultRetentionSchedule       = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsNamespace   = "relay"
	DefaultMetricsPath        = "/metrics"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "relay"

	// Security defaults
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute
	DefaultSecretEnvPrefix   = "RELAY_SECRET_"
)

// Backend auth schemes.
const (
	AuthSchemeAPIKey = "x-api-key"
	AuthSchemeBearer = "bearer"
)

// Quota units.
const (
	QuotaUnitTokens   = "tokens"
	QuotaUnitRequests = "requests"
	QuotaUnitCost     = "cost"
)

// Quota periods.
const (
	QuotaPeriodHourly  = "hourly"
	QuotaPeriodDaily   = "daily"
	QuotaPeriodMonthly = "monthly"
)

// DefaultEstimateFloor returns the default admission estimate for a quota unit.
func DefaultEstimateFloor(unit string) int64 {
	switch unit {
	case QuotaUnitRequests:
		return 1
	case QuotaUnitCost:
		return 10000 // one cent in micro-USD
	default:
		return 1024
	}
}

// DefaultLatencyBuckets are upstream latency buckets in seconds, sized for
// LLM requests including long streams.
var DefaultLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// DefaultPricing returns the built-in per-million-token price table.
func DefaultPricing() map[string]ModelPricing {
	sonnet := ModelPricing{Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30}
	opus := ModelPricing{Input: 15.0, Output: 75.0, CacheWrite: 18.75, CacheRead: 1.50}
	return map[string]ModelPricing{
		"claude-3-5-sonnet-20241022": sonnet,
		"claude-3-5-sonnet-20240620": sonnet,
		"claude-3-5-haiku-20241022":  {Input: 1.0, Output: 5.0, CacheWrite: 1.25, CacheRead: 0.10},
		"claude-3-opus-20240229":     opus,
		"claude-3-sonnet-20240229":   sonnet,
		"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25, CacheWrite: 0.30, CacheRead: 0.03},
		"claude-sonnet-4-20250514":   {Input: 5.0, Output: 25.0, CacheWrite: 6.25, CacheRead: 0.50},
		"claude-opus-4-20250514":     opus,
		"claude-opus-4-1-20250805":   opus,
		"default":                    sonnet,
	}
}

// DefaultCredentialSources returns where proxy keys are read from by default.
func DefaultCredentialSources() []CredentialSource {
	return []CredentialSource{
		{Header: "Authorization", Scheme: "Bearer"},
		{Header: "x-api-key"},
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Proxy defaults
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadHeaderTimeout == 0 {
		cfg.Proxy.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.MaxReplayBytes == 0 {
		cfg.Proxy.MaxReplayBytes = DefaultMaxReplayBytes
	}

	if cfg.Management.ListenAddress == "" {
		cfg.Management.ListenAddress = DefaultManagementListenAddress
	}

	// Backend defaults - applied to each backend
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.AuthScheme == "" {
			b.AuthScheme = DefaultBackendAuthScheme
		}
		if b.MaxConcurrent == 0 {
			b.MaxConcurrent = DefaultBackendMaxConcurrent
		}
		if b.Timeout == 0 {
			b.Timeout = DefaultBackendTimeout
		}
		if b.StreamIdleTimeout == 0 {
			b.StreamIdleTimeout = DefaultBackendStreamIdleTimeout
		}
		if b.AuthScheme == AuthSchemeAPIKey {
			if b.Headers == nil {
				b.Headers = make(map[string]string)
			}
			if _, ok := b.Headers["anthropic-version"]; !ok {
				b.Headers["anthropic-version"] = DefaultAnthropicVersion
			}
		}
	}

	// Routing defaults
	if cfg.Routing.FailureThreshold == 0 {
		cfg.Routing.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Routing.Cooldown == 0 {
		cfg.Routing.Cooldown = DefaultCooldown
	}
	if cfg.Routing.QueueTimeout == 0 {
		cfg.Routing.QueueTimeout = DefaultQueueTimeout
	}

	// Key defaults
	if len(cfg.Keys.Headers) == 0 {
		cfg.Keys.Headers = DefaultCredentialSources()
	}
	if cfg.Keys.CacheTTL == 0 {
		cfg.Keys.CacheTTL = DefaultKeyCacheTTL
	}
	if cfg.Keys.DefaultRateLimit == 0 {
		cfg.Keys.DefaultRateLimit = DefaultKeyRateLimit
	}
	if cfg.Keys.DefaultRateWindow == 0 {
		cfg.Keys.DefaultRateWindow = DefaultKeyRateWindow
	}
	if cfg.Keys.DefaultQuotaLimit == 0 {
		cfg.Keys.DefaultQuotaLimit = DefaultKeyQuotaLimit
	}

	// Limits defaults
	if cfg.Limits.RateLimit.Backend == "" {
		cfg.Limits.RateLimit.Backend = DefaultRateLimitBackend
	}
	if cfg.Limits.RateLimit.Algorithm == "" {
		cfg.Limits.RateLimit.Algorithm = DefaultRateLimitAlgo
	}
	if cfg.Limits.RateLimit.IdleTTL == 0 {
		cfg.Limits.RateLimit.IdleTTL = DefaultRateLimitIdleTTL
	}
	redis := &cfg.Limits.RateLimit.Redis
	if redis.Prefix == "" {
		redis.Prefix = DefaultRedisPrefix
	}
	if redis.DialTimeout == 0 {
		redis.DialTimeout = DefaultRedisDialTimeout
	}
	if redis.OperationTimeout == 0 {
		redis.OperationTimeout = DefaultRedisOperationTimeout
	}
	if redis.BreakerFailures == 0 {
		redis.BreakerFailures = DefaultRedisBreakerFailures
	}
	if redis.BreakerTimeout == 0 {
		redis.BreakerTimeout = DefaultRedisBreakerTimeout
	}
	if cfg.Limits.Quota.Unit == "" {
		cfg.Limits.Quota.Unit = DefaultQuotaUnit
	}
	if cfg.Limits.Quota.Period == "" {
		cfg.Limits.Quota.Period = DefaultQuotaPeriod
	}
	if cfg.Limits.Quota.Timezone == "" {
		cfg.Limits.Quota.Timezone = DefaultQuotaTimezone
	}
	if cfg.Limits.Quota.EstimateFloor == 0 {
		cfg.Limits.Quota.EstimateFloor = DefaultEstimateFloor(cfg.Limits.Quota.Unit)
	}

	// Storage defaults
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.Storage.CheckpointInterval == 0 {
		cfg.Storage.CheckpointInterval = DefaultCheckpointInterval
	}

	// Usage defaults
	if cfg.Usage.SQLite.Path == "" {
		cfg.Usage.SQLite.Path = DefaultUsageSQLitePath
	}
	if cfg.Usage.SQLite.MaxOpenConns == 0 {
		cfg.Usage.SQLite.MaxOpenConns = DefaultUsageSQLiteMaxOpenConns
	}
	if cfg.Usage.SQLite.BusyTimeout == 0 {
		cfg.Usage.SQLite.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.Usage.Recorder.BufferSize == 0 {
		cfg.Usage.Recorder.BufferSize = DefaultRecorderBufferSize
	}
	if cfg.Usage.Recorder.WriteTimeout == 0 {
		cfg.Usage.Recorder.WriteTimeout = DefaultRecorderWriteTimeout
	}
	if cfg.Usage.Retention.Days == 0 {
		cfg.Usage.Retention.Days = DefaultRetentionDays
	}
	if cfg.Usage.Retention.Schedule == "" {
		cfg.Usage.Retention.Schedule = DefaultRetentionSchedule
	}

	// Pricing defaults: built-in entries fill in anything not configured
	if cfg.Pricing == nil {
		cfg.Pricing = make(map[string]ModelPricing)
	}
	for model, price := range DefaultPricing() {
		if _, ok := cfg.Pricing[model]; !ok {
			cfg.Pricing[model] = price
		}
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if len(cfg.Telemetry.Metrics.LatencyBuckets) == 0 {
		cfg.Telemetry.Metrics.LatencyBuckets = DefaultLatencyBuckets
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}

	// Security defaults
	if cfg.Security.TLS.MinVersion == "" {
		cfg.Security.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Security.TLS.ReloadInterval == 0 {
		cfg.Security.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Security.Secrets.EnvPrefix == "" {
		cfg.Security.Secrets.EnvPrefix = DefaultSecretEnvPrefix
	}
}
