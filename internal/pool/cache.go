package pool

import (
	"sync"
	"time"

	"github.com/restyle-ai/llmpool/internal/types"
)

type cacheEntry struct {
	resp       types.Response
	insertedAt time.Time
}

// Cache is a bounded fingerprint → response store. Entries expire after
// the TTL; when the store is full the entry with the oldest insertion
// timestamp is evicted. Expiry and eviction are independent mechanisms.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]cacheEntry

	now func() time.Time // injected in tests
}

// NewCache creates a cache holding at most capacity entries for at most
// ttl each.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]cacheEntry, capacity),
		now:      time.Now,
	}
}

// Lookup returns the cached response for key, marked FromCache, if one
// exists and is fresh. An expired entry is removed and reported absent.
func (c *Cache) Lookup(key string) (types.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return types.Response{}, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return types.Response{}, false
	}

	resp := e.resp
	resp.FromCache = true
	return resp, true
}

// Insert stores resp under key, evicting the oldest-inserted entry first
// when the cache is at capacity. Re-inserting an existing key replaces it
// without evicting.
func (c *Cache) Insert(key string, resp types.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{resp: resp, insertedAt: c.now()}
}

// evictOldest removes the entry with the earliest insertion time.
// Called with mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, c.capacity)
}

// Size returns the number of stored entries, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
