package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is the derived, expendable view over store results. Entries live
// for a fixed TTL and carry the write epoch they were computed under;
// every successful write bumps the epoch, so a stale entry is discarded
// on its next read regardless of TTL. Concurrent misses for one key
// collapse into a single in-flight store query (singleflight), with
// followers awaiting its result.
//
// Staleness bound: at most TTL with no writes; across a write, at most
// one query that was already in flight when the epoch bumped.
type Cache struct {
	ttl   time.Duration
	epoch atomic.Int64

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group

	// now is swappable for TTL tests.
	now func() time.Time
}

type cacheEntry struct {
	value   any
	epoch   int64
	expires time.Time
}

// NewCache creates a cache with the given TTL. A non-positive TTL
// disables expiry by time (epoch invalidation still applies).
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Bump invalidates every cached entry. Called on each successful write;
// this trades extra invalidation for the guarantee that the cache can
// never under-invalidate.
func (c *Cache) Bump() {
	c.epoch.Add(1)
}

// Epoch returns the current write epoch.
func (c *Cache) Epoch() int64 {
	return c.epoch.Load()
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.epoch != c.epoch.Load() {
		return nil, false
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) put(key string, value any, epoch int64) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		value:   value,
		epoch:   epoch,
		expires: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Do returns the cached value for key, or computes it via fn with at
// most one in-flight computation per key. The entry is stored under the
// epoch observed before fn ran: a write landing mid-computation leaves
// the entry already invalid.
func (c *Cache) Do(key string, fn func() (any, error)) (any, bool, error) {
	if v, ok := c.get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.get(key); ok {
			return v, nil
		}
		epoch := c.epoch.Load()
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.put(key, v, epoch)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Drop removes a single key, regardless of epoch.
func (c *Cache) Drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry. Used after snapshot restore, where the whole
// derived view is garbage.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
	c.Bump()
}
