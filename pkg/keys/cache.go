package keys

import (
	"context"
	"sync"
	"time"
)

// CachedStore wraps a Store with a TTL cache on hash lookups so that
// authentication does not hit the database on every request.
//
// Writes made through the CachedStore invalidate the cache immediately.
// Writes made by another process become visible once the entry expires.
// Unknown hashes are never cached, so newly created keys work at once.
type CachedStore struct {
	Store

	ttl time.Duration

	mu     sync.RWMutex
	byHash map[string]*cacheEntry
	byID   map[string]string // id -> hash

	stopCh    chan struct{}
	closeOnce sync.Once
}

type cacheEntry struct {
	key       *Key
	expiresAt time.Time
}

// NewCachedStore creates a cache in front of store. A ttl of zero disables
// caching.
func NewCachedStore(store Store, ttl time.Duration) *CachedStore {
	c := &CachedStore{
		Store:  store,
		ttl:    ttl,
		byHash: make(map[string]*cacheEntry),
		byID:   make(map[string]string),
		stopCh: make(chan struct{}),
	}

	if ttl > 0 {
		interval := ttl
		if interval < time.Second {
			interval = time.Second
		}
		go c.cleanupExpired(interval)
	}

	return c
}

// GetByHash returns a cached key or falls through to the wrapped store.
func (c *CachedStore) GetByHash(ctx context.Context, hash string) (*Key, error) {
	if c.ttl <= 0 {
		return c.Store.GetByHash(ctx, hash)
	}

	c.mu.RLock()
	entry, ok := c.byHash[hash]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.key.Clone(), nil
	}

	k, err := c.Store.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byHash[hash] = &cacheEntry{key: k.Clone(), expiresAt: time.Now().Add(c.ttl)}
	c.byID[k.ID] = hash
	c.mu.Unlock()

	return k, nil
}

// Update writes through and drops the cached entry for the key.
func (c *CachedStore) Update(ctx context.Context, id string, u Update) (*Key, error) {
	k, err := c.Store.Update(ctx, id, u)
	c.Invalidate(id)
	return k, err
}

// Invalidate removes the cached entry for a key id.
func (c *CachedStore) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hash, ok := c.byID[id]; ok {
		delete(c.byHash, hash)
		delete(c.byID, id)
	}
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

// Close stops the background cleanup goroutine.
func (c *CachedStore) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *CachedStore) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

func (c *CachedStore) removeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, entry := range c.byHash {
		if now.After(entry.expiresAt) {
			delete(c.byHash, hash)
			delete(c.byID, entry.key.ID)
		}
	}
}
