package config

import "time"

// Config is the root configuration structure for Relay.
// It contains every section needed to run the proxy surface, the management
// API, the admission limits, usage recording and telemetry.
type Config struct {
	// Proxy contains the inbound proxy listener configuration.
	Proxy ProxyConfig `yaml:"proxy"`

	// Management contains the management API listener configuration.
	Management ManagementConfig `yaml:"management"`

	// Backends lists the upstream LLM API backends in priority order.
	Backends []BackendConfig `yaml:"backends"`

	// Routing contains backend selection and failover settings.
	Routing RoutingConfig `yaml:"routing"`

	// Keys contains proxy key authentication settings.
	Keys KeysConfig `yaml:"keys"`

	// Limits contains rate limiting and quota settings.
	Limits LimitsConfig `yaml:"limits"`

	// Storage contains the durable key and quota store settings.
	Storage StorageConfig `yaml:"storage"`

	// Usage contains usage recording, storage and retention settings.
	Usage UsageConfig `yaml:"usage"`

	// Pricing maps model names to token prices. The "default" entry is used
	// for unknown models.
	Pricing map[string]ModelPricing `yaml:"pricing"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains TLS settings for the proxy listener.
	Security SecurityConfig `yaml:"security"`
}

// ProxyConfig contains configuration for the inbound proxy server.
type ProxyConfig struct {
	// ListenAddress is the address and port for the proxy to listen on.
	// Default: "127.0.0.1:8000"
	ListenAddress string `yaml:"listen_address"`

	// ReadHeaderTimeout bounds how long reading request headers may take.
	// Request bodies are streamed and not bounded by this value.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle timeout for client connections.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxReplayBytes is the largest request body buffered in memory so that it
	// can be replayed against a second backend on failover. Larger bodies are
	// streamed and are not retried.
	// Default: 4194304 (4MB)
	MaxReplayBytes int64 `yaml:"max_replay_bytes"`
}

// ManagementConfig contains configuration for the management API.
type ManagementConfig struct {
	// Enabled controls whether the management listener is started.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// ListenAddress is the address for the management API.
	// Default: "127.0.0.1:8081"
	ListenAddress string `yaml:"listen_address"`

	// AdminToken is the bearer token required by every management route
	// except health probes and metrics. Required when management is enabled.
	AdminToken string `yaml:"admin_token"`
}

// IsEnabled reports whether the management listener should run.
func (m ManagementConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// BackendConfig describes one upstream backend.
type BackendConfig struct {
	// ID uniquely identifies the backend.
	ID string `yaml:"id"`

	// BaseURL is the upstream root, e.g. "https://api.anthropic.com".
	BaseURL string `yaml:"base_url"`

	// APIKey is the credential substituted for the client's proxy key.
	APIKey string `yaml:"api_key"`

	// AuthScheme selects how APIKey is sent: "x-api-key" or "bearer".
	// Default: "x-api-key"
	AuthScheme string `yaml:"auth_scheme"`

	// Priority orders backends for failover; lower values are tried first.
	Priority int `yaml:"priority"`

	// Default marks the primary backend. At most one backend may set it.
	Default bool `yaml:"default"`

	// MaxConcurrent caps in-flight requests to this backend.
	// Default: 64
	MaxConcurrent int `yaml:"max_concurrent"`

	// Timeout bounds the wait for upstream response headers per attempt.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// StreamIdleTimeout bounds the gap between response body reads.
	// Default: 120s
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	// Headers are added to upstream requests when the client did not set them.
	// Default for x-api-key backends: anthropic-version: 2023-06-01
	Headers map[string]string `yaml:"headers"`
}

// RoutingConfig contains backend selection and health settings.
type RoutingConfig struct {
	// Strict makes the selector fail with no_backend_available when every
	// backend is down instead of trying the least recently failed one.
	// Default: false
	Strict bool `yaml:"strict"`

	// FailureThreshold is the number of consecutive failures that moves a
	// backend from suspect to down.
	// Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long a backend stays down before a probe is allowed.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown"`

	// QueueTimeout is how long a request waits for a backend connection slot
	// before failing with pool_saturated.
	// Default: 250ms
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// Failover enables the single automatic retry against another backend.
	// Default: true
	Failover *bool `yaml:"failover"`
}

// FailoverEnabled reports whether failover retries are enabled.
func (r RoutingConfig) FailoverEnabled() bool {
	return r.Failover == nil || *r.Failover
}

// KeysConfig contains proxy key authentication settings.
type KeysConfig struct {
	// Headers lists where the client credential is read from, in order.
	// Default: [{header: Authorization, scheme: Bearer}, {header: x-api-key}]
	Headers []CredentialSource `yaml:"headers"`

	// CacheTTL is how long authenticated keys are cached in memory.
	// Default: 30s
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DefaultRateLimit is the request limit for keys created without one.
	// Default: 1000
	DefaultRateLimit int `yaml:"default_rate_limit"`

	// DefaultRateWindow is the rate window for keys created without one.
	// Default: 1h
	DefaultRateWindow time.Duration `yaml:"default_rate_window"`

	// DefaultQuotaLimit is the quota for keys created without one.
	// Default: 100000
	DefaultQuotaLimit int64 `yaml:"default_quota_limit"`
}

// CredentialSource names a request header holding the proxy key.
type CredentialSource struct {
	Header string `yaml:"header"`
	Scheme string `yaml:"scheme"`
}

// LimitsConfig contains rate limiting and quota configuration.
type LimitsConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Quota     QuotaConfig     `yaml:"quota"`
}

// RateLimitConfig selects the rate limiter backend.
type RateLimitConfig struct {
	// Backend is "memory" (per-process limiter) or "redis"
	// (fixed windows shared across instances).
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Algorithm selects the in-memory limiter: "sliding_window" counts
	// admissions in an exact rolling window; "token_bucket" refills
	// continuously and allows bursts up to the limit.
	// Default: "sliding_window"
	Algorithm string `yaml:"algorithm"`

	// IdleTTL evicts in-memory buckets for keys that have been idle this long.
	// Default: 10m
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// Redis configures the shared limiter when Backend is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is prepended to every rate limit key.
	// Default: "relay:rl:"
	Prefix string `yaml:"prefix"`

	// DialTimeout and OperationTimeout bound Redis calls.
	// Defaults: 2s and 100ms
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// BreakerFailures trips the circuit breaker after this many consecutive
	// Redis errors; BreakerTimeout is how long it stays open.
	// Defaults: 5 and 30s
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// QuotaConfig contains long-window quota accounting settings.
type QuotaConfig struct {
	// Unit is what quota counts: "tokens", "requests" or "cost" (micro-USD).
	// Default: "tokens"
	Unit string `yaml:"unit"`

	// Period is the accounting period: "hourly", "daily" or "monthly".
	// Default: "daily"
	Period string `yaml:"period"`

	// Timezone is the IANA zone period boundaries are computed in.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// EstimateFloor is the minimum number of units reserved at admission.
	// Default: 1024 for tokens, 1 for requests, 10000 for cost
	EstimateFloor int64 `yaml:"estimate_floor"`
}

// StorageConfig contains the durable key/quota database settings.
type StorageConfig struct {
	// Path is the SQLite database file.
	// Default: "data/relay.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// UsageConfig contains usage recording configuration.
type UsageConfig struct {
	// Enabled controls usage recording.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// SQLite configures the usage database.
	SQLite UsageSQLiteConfig `yaml:"sqlite"`

	// Recorder configures the asynchronous recorder.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention configures pruning of old usage records and quota rows.
	Retention RetentionConfig `yaml:"retention"`
}

// IsEnabled reports whether usage recording is enabled.
func (u UsageConfig) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// UsageSQLiteConfig configures the usage SQLite database.
type UsageSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// MaxOpenConns caps open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig configures the asynchronous usage recorder.
type RecorderConfig struct {
	// BufferSize is the capacity of the record queue. Records are dropped
	// when it is full.
	// Default: 4096
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig configures pruning.
type RetentionConfig struct {
	// Days is how many days of records to keep. 0 keeps everything.
	// Default: 90
	Days int `yaml:"days"`

	// Schedule is a standard cron expression.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// ModelPricing is the USD price per one million tokens.
type ModelPricing struct {
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheWrite float64 `yaml:"cache_write"`
	CacheRead  float64 `yaml:"cache_read"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`

	// Redact masks credentials in log attributes.
	// Default: true
	Redact *bool `yaml:"redact"`
}

// RedactEnabled reports whether credential redaction is on.
func (l LoggingConfig) RedactEnabled() bool {
	return l.Redact == nil || *l.Redact
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls metric collection and the /metrics route.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "relay"
	Namespace string `yaml:"namespace"`

	// Path is the management route serving metrics.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// LatencyBuckets are histogram buckets in seconds for upstream latency.
	LatencyBuckets []float64 `yaml:"latency_buckets"`
}

// IsEnabled reports whether metrics are enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled turns on span export.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of root spans sampled.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as service.name.
	// Default: "relay"
	ServiceName string `yaml:"service_name"`
}

// SecurityConfig contains TLS configuration for the proxy listener and the
// sources of ${secret:name} references.
type SecurityConfig struct {
	TLS     TLSConfig     `yaml:"tls"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecretsConfig configures where ${secret:name} references in backend API
// keys, the admin token and the Redis password are resolved from.
type SecretsConfig struct {
	// EnvPrefix namespaces secret environment variables: the secret
	// "anthropic-key" is read from RELAY_SECRET_ANTHROPIC_KEY.
	// Default: "RELAY_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory holding one file per secret, as mounted by
	// Kubernetes. Files must be mode 0600 or 0400. Checked before the
	// environment when set.
	Dir string `yaml:"dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Renewed certificates are picked up without a restart.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}
