package cache

import (
	"sync"
	"time"
)

// MemoryCache is the in-process tier-1 cache. Entries carry the expiry of the
// durable row they were promoted from; tier 1 never extends a lifetime on its
// own. It is a plain map under a mutex: the working set is one day's artifacts
// for a fixed universe, small enough that eviction pressure never appears.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryCache creates an empty tier-1 cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

// Get returns the cached value if present and fresh.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !entry.Fresh(time.Now()) {
		return nil, false
	}
	return entry.Value, true
}

// Set stores a value with the given expiry, replacing any previous entry.
func (c *MemoryCache) Set(key string, value []byte, expiresAt time.Time) {
	c.mu.Lock()
	c.entries[key] = &Entry{Key: key, Value: value, ExpiresAt: expiresAt}
	c.mu.Unlock()
}

// Delete removes a key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// PurgeExpired drops entries past their expiry and returns how many went.
func (c *MemoryCache) PurgeExpired() int {
	now := time.Now()
	purged := 0

	c.mu.Lock()
	for key, entry := range c.entries {
		if !entry.Fresh(now) {
			delete(c.entries, key)
			purged++
		}
	}
	c.mu.Unlock()

	return purged
}

// Len returns the number of resident entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
