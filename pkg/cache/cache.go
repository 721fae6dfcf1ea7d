// Package cache provides a small LRU cache with TTL expiration, used to
// memoize aggregation results on the read path.
//
// Aggregations like match linking statistics fold over every event of a
// match; during a live match the same aggregation is requested far more
// often than the underlying events change. A short TTL bounds the
// staleness, LRU eviction bounds the memory.
//
// Usage:
//
//	c := cache.New[storage.MatchID, LinkingStats](256, 3*time.Second)
//
//	if stats, ok := c.Get(matchID); ok {
//		return stats
//	}
//	stats := computeStats(matchID)
//	c.Put(matchID, stats)
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe LRU cache with optional TTL expiration.
//
// A hash map gives O(1) lookups; a doubly-linked list keeps the LRU
// ordering. Expired entries are dropped lazily on Get.
type Cache[K comparable, V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration

	list  *list.List
	items map[K]*list.Element

	hits   uint64
	misses uint64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// New creates a cache holding at most maxSize entries, each valid for ttl.
// A non-positive maxSize falls back to 256; ttl 0 disables expiration.
func New[K comparable, V any](maxSize int, ttl time.Duration) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[K]*list.Element, maxSize),
	}
}

// Get returns the cached value for key when present and not expired, and
// marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}

	ent := elem.Value.(*entry[K, V])
	if c.ttl > 0 && time.Now().After(ent.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}

	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return ent.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full. An existing key is updated and its TTL restarted.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		if c.ttl > 0 {
			ent.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		if oldest := c.list.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	ent := &entry[K, V]{key: key, value: value}
	if c.ttl > 0 {
		ent.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(ent)
}

// Remove drops the entry for key when present.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[K]*list.Element, c.maxSize)
}

// Len returns the number of live entries, expired ones included until
// their next Get.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats reports hit/miss counters and the current size.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns a snapshot of the cache's performance counters.
func (c *Cache[K, V]) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.Lock()
	size := c.list.Len()
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// removeElement drops elem. Caller must hold the lock.
func (c *Cache[K, V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
