package utils

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type cacheEntry struct {
	value    interface{}
	storedAt time.Time
}

// BoundedCache is a TTL key-value store with a fixed capacity. When an
// insert would exceed capacity, the oldest half of the entries is evicted
// in one sweep. Safe for concurrent use.
type BoundedCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	capacity int
	ttl      time.Duration
	clock    clockwork.Clock
}

func NewBoundedCache(capacity int, ttl time.Duration, clock clockwork.Clock) *BoundedCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if capacity < 2 {
		capacity = 2
	}
	return &BoundedCache{
		entries:  make(map[string]cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
	}
}

// Get returns the cached value for key, or false if absent or expired.
// Expired entries are removed lazily on read.
func (c *BoundedCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.ttl > 0 && c.clock.Since(entry.storedAt) > c.ttl {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.storedAt.Equal(entry.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Put stores value under key, evicting the oldest half of the cache first
// when at capacity.
func (c *BoundedCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestHalf()
	}

	c.entries[key] = cacheEntry{value: value, storedAt: c.clock.Now()}
}

// Len returns the number of entries, including any not yet lazily expired.
func (c *BoundedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldestHalf removes the oldest half of the entries by insertion time.
// Caller must hold the write lock.
func (c *BoundedCache) evictOldestHalf() {
	type keyed struct {
		key      string
		storedAt time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, keyed{k, e.storedAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].storedAt.Before(ordered[j].storedAt)
	})

	for _, e := range ordered[:len(ordered)/2] {
		delete(c.entries, e.key)
	}
}
