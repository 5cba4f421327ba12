package exec

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// ResultCache is a bounded, TTL-evicting cache of ExecutionResults keyed
// by the exact original SQL string. golang-lru/v2 provides size-bounded,
// oldest-first eviction on insert; the TTL-on-lookup behavior it doesn't
// provide is layered on top with a mutex.
type ResultCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

// NewResultCache creates a cache bounded to maxEntries with the given TTL.
func NewResultCache(maxEntries int, ttl time.Duration) *ResultCache {
	c, _ := lru.New[string, cacheEntry](maxEntries)
	return &ResultCache{lru: c, ttl: ttl}
}

// Get returns the cached result for sql, if present and not expired.
func (c *ResultCache) Get(sql string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(sql)
	if !ok {
		return Result{}, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		c.lru.Remove(sql)
		return Result{}, false
	}
	return entry.result, true
}

// Put stores result under the original SQL string.
func (c *ResultCache) Put(sql string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(sql, cacheEntry{result: result, cachedAt: time.Now()})
}

// Sweep proactively evicts every entry older than the configured TTL.
// Called by the background sweep job in addition to eviction-on-lookup.
func (c *ResultCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if time.Since(entry.cachedAt) > c.ttl {
			c.lru.Remove(key)
			evicted++
		}
	}
	return evicted
}

// Len reports the current number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
