package fetch

import (
	"sync"
	"time"
)

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

// ttlCache is a bounded response cache with insertion-order eviction: when
// full, the oldest inserted key goes first, regardless of access pattern.
type ttlCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order; one slot per live key
}

func newTTLCache(ttl time.Duration, max int) *ttlCache {
	return &ttlCache{ttl: ttl, max: max, entries: make(map[string]cacheEntry, max)}
}

func (c *ttlCache) get(key string, now time.Time) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		// Drop the order slot too: a later re-put of this key is a fresh
		// insertion and must go to the back, not inherit the old position.
		delete(c.entries, key)
		c.dropOrder(key)
		return nil, false
	}
	return e.body, true
}

func (c *ttlCache) put(key string, body []byte, now time.Time) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = cacheEntry{body: body, expiresAt: now.Add(c.ttl)}
		return
	}
	for c.max > 0 && len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cacheEntry{body: body, expiresAt: now.Add(c.ttl)}
	c.order = append(c.order, key)
}

func (c *ttlCache) dropOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
