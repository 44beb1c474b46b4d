package correct

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Cache memoizes corrected transcripts keyed on the normalized input text.
// Eviction is first-in first-out: when the cache fills, the oldest tenth of
// the entries is dropped in one sweep.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]string
	order    []string
	capacity int

	hits   int64
	misses int64
}

func NewCache(capacity int) *Cache {
	return &Cache{
		entries:  make(map[string]string, capacity),
		capacity: capacity,
	}
}

// Key normalizes a transcript for cache lookup. Two transcripts differing
// only in case or surrounding whitespace share an entry.
func Key(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return v, ok
}

func (c *Cache) Put(key, corrected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = corrected
		return
	}
	if len(c.entries) >= c.capacity {
		evict := c.capacity / 10
		if evict < 1 {
			evict = 1
		}
		if evict > len(c.order) {
			evict = len(c.order)
		}
		for _, k := range c.order[:evict] {
			delete(c.entries, k)
		}
		c.order = append([]string(nil), c.order[evict:]...)
	}
	c.entries[key] = corrected
	c.order = append(c.order, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports cache hit counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   c.Len(),
	}
}
