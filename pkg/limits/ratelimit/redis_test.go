package ratelimit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mercator-hq/relay/pkg/config"
)

// windowAligned is a minute boundary so fixed windows are predictable.
var windowAligned = time.UnixMilli(1_700_000_040_000)

func newTestRedisLimiter(t *testing.T, cfg config.RedisConfig, opts ...RedisOption) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})

	fallback := NewLocalLimiter(AlgorithmSlidingWindow, 0)
	opts = append([]RedisOption{WithRedisClient(client)}, opts...)
	r, err := NewRedisLimiter(cfg, fallback, opts...)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	r.now = func() time.Time { return windowAligned }
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

// ============ Redis Limiter Tests ============

func TestRedisLimiter_FixedWindow(t *testing.T) {
	r, mr := newTestRedisLimiter(t, config.RedisConfig{Prefix: "test:rl:"})
	limit := Limit{Requests: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := r.Admit(ctx, "key-1", limit)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if res.Remaining != int64(1-i) {
			t.Errorf("Remaining = %d, want %d", res.Remaining, 1-i)
		}
	}

	res, err := r.Admit(ctx, "key-1", limit)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("third request should be denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want in (0, 1m]", res.RetryAfter)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("redis keys = %v, want one window key", keys)
	}
	if !strings.HasPrefix(keys[0], "test:rl:key-1:") {
		t.Errorf("window key = %q, want test:rl:key-1: prefix", keys[0])
	}
	// Denials do not increment the counter.
	if got, _ := mr.Get(keys[0]); got != "2" {
		t.Errorf("counter = %q, want 2", got)
	}
}

func TestRedisLimiter_NextWindowStartsFresh(t *testing.T) {
	r, _ := newTestRedisLimiter(t, config.RedisConfig{})
	limit := Limit{Requests: 1, Window: time.Minute}
	ctx := context.Background()

	if res, _ := r.Admit(ctx, "k", limit); !res.Allowed {
		t.Fatal("first request denied")
	}
	if res, _ := r.Admit(ctx, "k", limit); res.Allowed {
		t.Fatal("second request should be denied")
	}

	r.now = func() time.Time { return windowAligned.Add(time.Minute) }
	if res, _ := r.Admit(ctx, "k", limit); !res.Allowed {
		t.Error("request in next window should be allowed")
	}
}

func TestRedisLimiter_ConcurrentLastSlot(t *testing.T) {
	r, _ := newTestRedisLimiter(t, config.RedisConfig{})
	limit := Limit{Requests: 2, Window: time.Second}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Admit(context.Background(), "k", limit)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 2 {
		t.Errorf("allowed = %d, want 2", allowed.Load())
	}
}

func TestRedisLimiter_FallbackWhenUnavailable(t *testing.T) {
	var fallbacks []string
	var mu sync.Mutex
	hook := WithFallbackHook(func(reason string) {
		mu.Lock()
		fallbacks = append(fallbacks, reason)
		mu.Unlock()
	})

	r, mr := newTestRedisLimiter(t, config.RedisConfig{BreakerFailures: 2, BreakerTimeout: time.Hour}, hook)
	mr.SetError("ERR injected failure")

	limit := Limit{Requests: 2, Window: time.Minute}
	ctx := context.Background()

	var allowed int
	for i := 0; i < 4; i++ {
		res, err := r.Admit(ctx, "k", limit)
		if err != nil {
			t.Fatalf("Admit() error = %v, want fallback result", err)
		}
		if res.Allowed {
			allowed++
		}
	}

	if allowed != 2 {
		t.Errorf("fallback allowed = %d, want 2", allowed)
	}
	if r.BreakerState() != "open" {
		t.Errorf("breaker state = %q, want open", r.BreakerState())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fallbacks) != 4 {
		t.Fatalf("fallback hook calls = %d, want 4", len(fallbacks))
	}
	if fallbacks[0] != "error" || fallbacks[3] != "breaker_open" {
		t.Errorf("fallback reasons = %v", fallbacks)
	}
}

func TestRedisLimiter_Unlimited(t *testing.T) {
	r, mr := newTestRedisLimiter(t, config.RedisConfig{})
	res, err := r.Admit(context.Background(), "k", Limit{})
	if err != nil || !res.Allowed {
		t.Fatalf("unlimited request denied: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Error("unlimited request should not touch redis")
	}
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	if _, err := NewRedisLimiter(config.RedisConfig{Address: "localhost:6379"}, nil); err == nil {
		t.Error("expected error without fallback")
	}
	local := NewLocalLimiter(AlgorithmSlidingWindow, 0)
	defer local.Close()
	if _, err := NewRedisLimiter(config.RedisConfig{}, local); err == nil {
		t.Error("expected error without address")
	}
}

// ============ Factory Tests ============

func TestNew(t *testing.T) {
	l, err := New(config.RateLimitConfig{Backend: "memory", Algorithm: "token_bucket"})
	if err != nil {
		t.Fatalf("New(memory) error = %v", err)
	}
	defer l.Close()
	local, ok := l.(*LocalLimiter)
	if !ok {
		t.Fatalf("New(memory) = %T, want *LocalLimiter", l)
	}
	if local.algorithm != AlgorithmTokenBucket {
		t.Errorf("algorithm = %q, want token_bucket", local.algorithm)
	}

	mr := miniredis.RunT(t)
	l2, err := New(config.RateLimitConfig{Backend: "redis", Redis: config.RedisConfig{Address: mr.Addr()}})
	if err != nil {
		t.Fatalf("New(redis) error = %v", err)
	}
	defer l2.Close()
	if _, ok := l2.(*RedisLimiter); !ok {
		t.Errorf("New(redis) = %T, want *RedisLimiter", l2)
	}

	if _, err := New(config.RateLimitConfig{Backend: "memcached"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
