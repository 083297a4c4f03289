package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"mercator-hq/relay/pkg/config"
)

// fixedWindowScript checks the count of the current window and increments it
// only when the request is admitted. Returns {allowed, count, pttl}.
//
// KEYS[1] = window key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	local ttl = redis.call("PTTL", KEYS[1])
	return {0, current, ttl}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
return {1, current, ttl}
`)

// RedisLimiter is a fixed-window Limiter shared by every relay instance
// pointing at the same Redis. Redis calls run through a circuit breaker; on
// error or while the breaker is open the local fallback limiter decides.
type RedisLimiter struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	breaker   *gobreaker.CircuitBreaker
	fallback  *LocalLimiter
	logger    *slog.Logger
	now       func() time.Time

	onFallback func(reason string)
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithFallbackHook registers a callback invoked each time the fallback
// limiter answers instead of Redis.
func WithFallbackHook(fn func(reason string)) RedisOption {
	return func(r *RedisLimiter) {
		r.onFallback = fn
	}
}

// WithRedisClient uses an existing client instead of dialing cfg.Address.
func WithRedisClient(client *redis.Client) RedisOption {
	return func(r *RedisLimiter) {
		r.client = client
	}
}

// NewRedisLimiter creates a Redis-backed limiter. fallback must not be nil.
func NewRedisLimiter(cfg config.RedisConfig, fallback *LocalLimiter, opts ...RedisOption) (*RedisLimiter, error) {
	if fallback == nil {
		return nil, fmt.Errorf("redis limiter requires a fallback limiter")
	}

	r := &RedisLimiter{
		prefix:    cfg.Prefix,
		opTimeout: cfg.OperationTimeout,
		fallback:  fallback,
		logger:    slog.Default().With("component", "ratelimit.redis"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prefix == "" {
		r.prefix = config.DefaultRedisPrefix
	}
	if r.opTimeout <= 0 {
		r.opTimeout = config.DefaultRedisOperationTimeout
	}

	if r.client == nil {
		if cfg.Address == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		r.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  r.opTimeout,
			WriteTimeout: r.opTimeout,
			PoolSize:     32,
			MinIdleConns: 2,
		})
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = config.DefaultRedisBreakerFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = config.DefaultRedisBreakerTimeout
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller that went away says nothing about Redis health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return r, nil
}

// Admit checks and consumes one request slot for keyID.
func (r *RedisLimiter) Admit(ctx context.Context, keyID string, limit Limit) (*CheckResult, error) {
	if limit.Unlimited() {
		return unlimitedResult(), nil
	}

	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.admitRedis(ctx, keyID, limit)
	})
	if err == nil {
		return v.(*CheckResult), nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	reason := "error"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "breaker_open"
	} else {
		r.logger.Warn("redis rate limit failed, using local limiter",
			"key_id", keyID,
			"error", err,
		)
	}
	if r.onFallback != nil {
		r.onFallback(reason)
	}
	return r.fallback.Admit(ctx, keyID, limit)
}

func (r *RedisLimiter) admitRedis(ctx context.Context, keyID string, limit Limit) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	now := r.now()
	windowMs := limit.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	nowMs := now.UnixMilli()
	windowStart := nowMs / windowMs * windowMs
	key := r.prefix + keyID + ":" + strconv.FormatInt(windowStart, 10)

	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, limit.Requests, windowMs).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("fixed window script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("fixed window script: unexpected reply length %d", len(raw))
	}

	allowed, count, pttl := raw[0] == 1, raw[1], raw[2]
	reset := time.UnixMilli(windowStart + windowMs)
	if pttl > 0 {
		reset = now.Add(time.Duration(pttl) * time.Millisecond)
	}

	res := &CheckResult{
		Allowed:   allowed,
		Limit:     int64(limit.Requests),
		Remaining: int64(limit.Requests) - count,
		Reset:     reset,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !allowed {
		res.RetryAfter = reset.Sub(now)
	}
	return res, nil
}

// Ping checks Redis connectivity.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// BreakerState returns the circuit breaker state name.
func (r *RedisLimiter) BreakerState() string {
	return r.breaker.State().String()
}

// Close closes the Redis client and the fallback limiter.
func (r *RedisLimiter) Close() error {
	err := r.client.Close()
	if ferr := r.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
