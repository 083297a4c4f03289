package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const (
	shardCount = 16

	// maxExactWindow bounds the timestamp ring of the sliding window.
	// Larger limits use a token bucket instead.
	maxExactWindow = 10000
)

// taker is one key's limiting state.
type taker interface {
	Take(now time.Time, limit Limit) *CheckResult
}

type entry struct {
	mu         sync.Mutex
	state      taker
	exact      bool
	lastAccess time.Time
	window     time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// LocalLimiter is an in-process Limiter with one entry per key. Entries live
// in a sharded map and each has its own mutex, so admission on one key never
// waits on another key.
type LocalLimiter struct {
	algorithm Algorithm
	idleTTL   time.Duration
	shards    [shardCount]*shard
	now       func() time.Time
	logger    *slog.Logger

	stopCh    chan struct{}
	stopOnce  sync.Once
	cleanupWg sync.WaitGroup
}

// NewLocalLimiter creates a limiter using algorithm and starts a cleanup
// loop that evicts entries idle longer than idleTTL (or their window,
// whichever is longer). An idleTTL of zero disables cleanup.
func NewLocalLimiter(algorithm Algorithm, idleTTL time.Duration) *LocalLimiter {
	if algorithm == "" {
		algorithm = AlgorithmSlidingWindow
	}
	l := &LocalLimiter{
		algorithm: algorithm,
		idleTTL:   idleTTL,
		now:       time.Now,
		logger:    slog.Default().With("component", "ratelimit.local"),
		stopCh:    make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	if idleTTL > 0 {
		l.cleanupWg.Add(1)
		go l.cleanupLoop()
	}
	return l
}

// Admit checks and consumes one request slot for keyID.
func (l *LocalLimiter) Admit(_ context.Context, keyID string, limit Limit) (*CheckResult, error) {
	if limit.Unlimited() {
		return unlimitedResult(), nil
	}

	now := l.now()
	e := l.getEntry(keyID, limit, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Switch representation when a live edit crosses the exact-window bound.
	if wantExact := l.useExact(limit); wantExact != e.exact {
		e.state = l.newState(limit)
		e.exact = wantExact
	}
	e.lastAccess = now
	e.window = limit.Window
	return e.state.Take(now, limit), nil
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Reset forgets the state of keyID.
func (l *LocalLimiter) Reset(keyID string) {
	s := l.shardFor(keyID)
	s.mu.Lock()
	delete(s.entries, keyID)
	s.mu.Unlock()
}

// Close stops the cleanup loop.
func (l *LocalLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.cleanupWg.Wait()
	return nil
}

func (l *LocalLimiter) useExact(limit Limit) bool {
	return l.algorithm == AlgorithmSlidingWindow && limit.Requests <= maxExactWindow
}

func (l *LocalLimiter) newState(limit Limit) taker {
	if l.useExact(limit) {
		return NewSlidingWindow(limit.Requests, limit.Window)
	}
	return NewTokenBucket(limit)
}

func (l *LocalLimiter) shardFor(keyID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(keyID))
	return l.shards[h.Sum32()%shardCount]
}

func (l *LocalLimiter) getEntry(keyID string, limit Limit, now time.Time) *entry {
	s := l.shardFor(keyID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[keyID]
	if !ok {
		e = &entry{
			state:      l.newState(limit),
			exact:      l.useExact(limit),
			lastAccess: now,
			window:     limit.Window,
		}
		s.entries[keyID] = e
		return e
	}

	// Touch under the shard lock so a concurrent eviction cannot drop it.
	e.mu.Lock()
	e.lastAccess = now
	e.mu.Unlock()
	return e
}

func (l *LocalLimiter) cleanupLoop() {
	defer l.cleanupWg.Done()

	interval := l.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.evictIdle(l.now()); n > 0 {
				l.logger.Debug("evicted idle rate limit entries", "count", n)
			}
		case <-l.stopCh:
			return
		}
	}
}

// evictIdle removes entries that have not been touched for longer than
// max(idleTTL, window). Evicting earlier would forget admissions that still
// count against the window.
func (l *LocalLimiter) evictIdle(now time.Time) int {
	evicted := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			e.mu.Lock()
			ttl := l.idleTTL
			if e.window > ttl {
				ttl = e.window
			}
			idle := now.Sub(e.lastAccess) > ttl
			e.mu.Unlock()
			if idle {
				delete(s.entries, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
