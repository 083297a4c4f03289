package ratelimit

import (
	"fmt"

	"mercator-hq/relay/pkg/config"
)

// New builds the Limiter selected by cfg.Backend.
func New(cfg config.RateLimitConfig, opts ...RedisOption) (Limiter, error) {
	local := NewLocalLimiter(Algorithm(cfg.Algorithm), cfg.IdleTTL)

	switch cfg.Backend {
	case "", "memory":
		return local, nil
	case "redis":
		r, err := NewRedisLimiter(cfg.Redis, local, opts...)
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("failed to create redis limiter: %w", err)
		}
		return r, nil
	default:
		_ = local.Close()
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
