// Package cache provides generic, thread-safe LRU caches with metrics,
// optional per-entry TTLs, and a tagged variant supporting selective
// dependency-based invalidation.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a generic thread-safe LRU cache with built-in metrics.
// Entries may carry an expiry; expired entries are treated as misses
// and removed lazily on access.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*entry[K, V]
	order    *list.List
	capacity int
	ttl      time.Duration

	// Metrics (lock-free using atomics)
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicts  atomic.Uint64
	sets    atomic.Uint64
	expired atomic.Uint64
}

// entry holds a cached value and its position in the LRU list.
type entry[K comparable, V any] struct {
	key       K
	value     V
	element   *list.Element
	expiresAt time.Time // zero means no expiry
}

// New creates a new Cache with the specified capacity and no default TTL.
// When the cache is full, the least recently used item is evicted.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	return NewWithTTL[K, V](capacity, 0)
}

// NewWithTTL creates a Cache whose entries expire after ttl.
// A ttl of zero disables expiry.
func NewWithTTL[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache[K, V]{
		items:    make(map[K]*entry[K, V], capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get retrieves a value from the cache.
// Returns the value and true if found and not expired.
// Accessing an item moves it to the front of the LRU list.
// The entry's expiry and value are read under the lock; SetWithTTL
// mutates entries in place, so releasing it earlier would race.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()

	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.items, key)
		c.order.Remove(e.element)
		c.mu.Unlock()
		c.expired.Add(1)
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.order.MoveToFront(e.element)
	value := e.value
	c.mu.Unlock()

	c.hits.Add(1)
	return value, true
}

// Set adds or updates a value using the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL adds or updates a value with an explicit TTL.
// A ttl of zero stores the entry without expiry.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.sets.Add(1)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(e.element)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	element := c.order.PushFront(key)
	c.items[key] = &entry[K, V]{
		key:       key,
		value:     value,
		element:   element,
		expiresAt: expiresAt,
	}
}

// evictOldest removes the least recently used item.
// Must be called with mu held.
func (c *Cache[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}

	key := oldest.Value.(K)
	delete(c.items, key)
	c.order.Remove(oldest)
	c.evicts.Add(1)
}

// Delete removes an item from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(e.element)
	}
}

// Len returns the current number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V], c.capacity)
	c.order.Init()
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Sets     uint64
	Expired  uint64
	HitRate  float64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		Sets:     c.sets.Load(),
		Expired:  c.expired.Load(),
		HitRate:  hitRate,
	}
}

// GetOrSet returns the existing value for key if present.
// Otherwise, it calls fn to compute the value, stores it, and returns it.
func (c *Cache[K, V]) GetOrSet(key K, fn func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := c.items[key]; ok {
		if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
			c.order.MoveToFront(e.element)
			return e.value
		}
		delete(c.items, key)
		c.order.Remove(e.element)
	}

	value := fn()

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	element := c.order.PushFront(key)
	c.items[key] = &entry[K, V]{
		key:       key,
		value:     value,
		element:   element,
		expiresAt: expiresAt,
	}
	c.sets.Add(1)

	return value
}

// Keys returns all keys in the cache (in no particular order).
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for each item in the cache.
// If fn returns false, iteration stops.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, e := range c.items {
		if !fn(k, e.value) {
			break
		}
	}
}
