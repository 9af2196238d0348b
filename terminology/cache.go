package terminology

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	// DefaultShardCount is the default number of cache shards.
	// Use a power of 2 for efficient modulo operation.
	DefaultShardCount = 64

	// DefaultCacheTTL is the default time-to-live for cache entries.
	DefaultCacheTTL = 15 * time.Minute
)

// ShardedCache is a thread-safe, sharded cache of code-validation
// answers. Sharding reduces lock contention when sub-batches validate
// concurrently.
type ShardedCache struct {
	shards    []*cacheShard
	shardMask uint32
	ttl       time.Duration
}

type cacheShard struct {
	mu      sync.RWMutex
	answers map[string]cachedAnswer
}

type cachedAnswer struct {
	valid     bool
	expiresAt time.Time
}

// CacheConfig holds configuration options for the cache.
type CacheConfig struct {
	// ShardCount is the number of shards. Must be a power of 2.
	ShardCount int

	// TTL is the time-to-live for cache entries.
	TTL time.Duration
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ShardCount: DefaultShardCount,
		TTL:        DefaultCacheTTL,
	}
}

// NewShardedCache creates a new sharded cache with the given configuration.
func NewShardedCache(config CacheConfig) *ShardedCache {
	shardCount := config.ShardCount
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	shardCount = nextPowerOf2(shardCount)

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = &cacheShard{answers: make(map[string]cachedAnswer)}
	}

	return &ShardedCache{
		shards:    shards,
		shardMask: uint32(shardCount - 1),
		ttl:       ttl,
	}
}

// MakeKey builds the cache key for a (system, code) pair.
func MakeKey(system, code string) string {
	return system + "|" + code
}

// Get returns the cached answer for the key, if present and fresh.
func (c *ShardedCache) Get(key string) (valid, ok bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	answer, found := shard.answers[key]
	shard.mu.RUnlock()

	if !found {
		return false, false
	}
	if time.Now().After(answer.expiresAt) {
		shard.mu.Lock()
		delete(shard.answers, key)
		shard.mu.Unlock()
		return false, false
	}
	return answer.valid, true
}

// Set stores an answer under the configured TTL.
func (c *ShardedCache) Set(key string, valid bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.answers[key] = cachedAnswer{valid: valid, expiresAt: time.Now().Add(c.ttl)}
	shard.mu.Unlock()
}

// Clear removes all entries.
func (c *ShardedCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.answers = make(map[string]cachedAnswer)
		shard.mu.Unlock()
	}
}

// Len returns the total number of cached answers, including expired
// entries not yet evicted.
func (c *ShardedCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.answers)
		shard.mu.RUnlock()
	}
	return n
}

func (c *ShardedCache) getShard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()&c.shardMask]
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
