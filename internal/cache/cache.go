package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"riskengine/internal/metrics"
)

// ComputeFunc performs the expensive external lookup behind a cache key.
type ComputeFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	value     interface{}
	err       error
	expiresAt time.Time
}

// Cache memoizes expensive lookups with a TTL. Concurrent misses for the
// same key collapse into a single compute call; distinct keys proceed in
// parallel. Compute failures are never stored as values — negative
// caching only happens when errTTL is set explicitly.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	errTTL  time.Duration
	now     func() time.Time
}

// New creates a cache. errTTL > 0 enables short-lived negative caching
// of compute failures; zero disables it.
func New(errTTL time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		errTTL:  errTTL,
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key when it is still live,
// otherwise runs fn and stores the result for ttl. A fn error propagates
// to every caller waiting on the key and leaves no value cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) (interface{}, error) {
	if v, err, ok := c.lookup(key); ok {
		metrics.CacheHits.Inc()
		return v, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have filled the entry while we queued.
		if v, err, ok := c.lookup(key); ok {
			return v, err
		}
		metrics.CacheMisses.Inc()

		value, err := fn(ctx)
		now := c.now()

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			if c.errTTL > 0 {
				c.entries[key] = entry{err: err, expiresAt: now.Add(c.errTTL)}
			} else {
				delete(c.entries, key)
			}
			return nil, err
		}
		c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
		return value, nil
	})
	return v, err
}

// Sweep evicts expired entries and refreshes the size gauge. Intended to
// run periodically from the pipeline.
func (c *Cache) Sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.CacheSize.Set(float64(size))
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (interface{}, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, nil, false
	}
	return e.value, e.err, true
}
