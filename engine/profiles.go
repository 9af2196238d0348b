package engine

import (
	"context"
	"time"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/cache"
	"github.com/gofhir/quality/service"
)

// cachingResolver wraps a ProfileResolver with a TTL'd LRU cache.
// Only successful resolutions are cached: a nil definition means the
// chain could not resolve right now, and a later attempt may succeed
// once a server recovers.
type cachingResolver struct {
	inner   service.ProfileResolver
	cache   *cache.Cache[string, *service.StructureDefinition]
	metrics *fq.Metrics
}

var _ service.ProfileResolver = (*cachingResolver)(nil)

func newCachingResolver(inner service.ProfileResolver, size int, ttl time.Duration, metrics *fq.Metrics) *cachingResolver {
	return &cachingResolver{
		inner:   inner,
		cache:   cache.NewWithTTL[string, *service.StructureDefinition](size, ttl),
		metrics: metrics,
	}
}

func (r *cachingResolver) ResolveProfile(ctx context.Context, url string) (*service.StructureDefinition, error) {
	if sd, ok := r.cache.Get(url); ok {
		if r.metrics != nil {
			r.metrics.RecordCacheHit()
		}
		return sd, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss()
	}

	sd, err := r.inner.ResolveProfile(ctx, url)
	if err != nil {
		return nil, err
	}
	if sd != nil {
		r.cache.Set(url, sd)
	}
	return sd, nil
}
