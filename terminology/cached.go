package terminology

import (
	"context"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/service"
)

// CachedValidator wraps a CodeValidator with the sharded TTL cache.
// Definite answers, positive and negative, are cached; indeterminate
// calls (errors) are not, so a recovered server gets asked again.
type CachedValidator struct {
	inner   service.CodeValidator
	cache   *ShardedCache
	metrics *fq.Metrics
}

// NewCachedValidator creates a caching wrapper around inner.
func NewCachedValidator(inner service.CodeValidator, config CacheConfig) *CachedValidator {
	return &CachedValidator{
		inner: inner,
		cache: NewShardedCache(config),
	}
}

// SetMetrics attaches a metrics collector for hit/miss counts.
func (v *CachedValidator) SetMetrics(m *fq.Metrics) {
	v.metrics = m
}

// Cache returns the underlying cache for inspection or manual clears.
func (v *CachedValidator) Cache() *ShardedCache {
	return v.cache
}

// ValidateCode implements service.CodeValidator with caching.
func (v *CachedValidator) ValidateCode(ctx context.Context, system, code string) (bool, error) {
	key := MakeKey(system, code)
	if valid, ok := v.cache.Get(key); ok {
		if v.metrics != nil {
			v.metrics.RecordCacheHit()
		}
		return valid, nil
	}
	if v.metrics != nil {
		v.metrics.RecordCacheMiss()
	}

	valid, err := v.inner.ValidateCode(ctx, system, code)
	if err != nil {
		return false, err
	}

	v.cache.Set(key, valid)
	return valid, nil
}

var _ service.CodeValidator = (*CachedValidator)(nil)
