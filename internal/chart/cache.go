package chart

import (
	"context"
	"maps"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"bazibot/internal/metrics"
	"bazibot/internal/models"
)

const defaultCacheSize = 1024

// CachedResolver memoizes lookup results and coalesces concurrent identical
// resolutions. Fallback results are not cached so a lookup outage is not
// pinned once the service recovers.
type CachedResolver struct {
	next    Resolver
	cache   *lru.Cache[string, models.ChartResult]
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewCachedResolver wraps next with an LRU of the given size.
func NewCachedResolver(next Resolver, size int, m *metrics.Metrics) (*CachedResolver, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, models.ChartResult](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{next: next, cache: cache, metrics: m}, nil
}

// Resolve implements Resolver
func (c *CachedResolver) Resolve(ctx context.Context, birthDate, birthTime, birthCity string) models.ChartResult {
	key := cacheKey(birthDate, birthTime, birthCity)
	if result, ok := c.cache.Get(key); ok {
		c.metrics.ChartResolved("cache")
		return withText(result, birthCity)
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		result := c.next.Resolve(ctx, birthDate, birthTime, birthCity)
		if result.Source == models.SourceLookup {
			c.cache.Add(key, result)
		}
		return result, nil
	})
	return withText(v.(models.ChartResult), birthCity)
}

// Len returns the number of cached results
func (c *CachedResolver) Len() int {
	return c.cache.Len()
}

func cacheKey(birthDate, birthTime, birthCity string) string {
	return birthDate + "|" + birthTime + "|" + strings.ToLower(strings.TrimSpace(birthCity))
}

// withText copies the shared text map and restores the caller's city spelling
func withText(result models.ChartResult, birthCity string) models.ChartResult {
	result.DerivedText = maps.Clone(result.DerivedText)
	result.BirthCity = birthCity
	return result
}
