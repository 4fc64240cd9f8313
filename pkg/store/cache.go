package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/observability"
)

// categoryCacheSize bounds the read cache. Category lookups sit on every
// guarded request path, so even a small cache absorbs most of the reads.
const categoryCacheSize = 512

type categoryCache struct {
	cache   *lru.Cache[int64, catalog.Category]
	metrics *observability.Metrics
}

func newCategoryCache(size int, metrics *observability.Metrics) (*categoryCache, error) {
	cache, err := lru.New[int64, catalog.Category](size)
	if err != nil {
		return nil, err
	}
	return &categoryCache{cache: cache, metrics: metrics}, nil
}

func (c *categoryCache) get(id int64) (*catalog.Category, bool) {
	v, ok := c.cache.Get(id)
	if c.metrics != nil {
		if ok {
			c.metrics.CategoryCacheHits.Inc()
		} else {
			c.metrics.CategoryCacheMisses.Inc()
		}
	}
	if !ok {
		return nil, false
	}
	cp := v
	return &cp, true
}

func (c *categoryCache) put(cat *catalog.Category) {
	c.cache.Add(cat.ID, *cat)
}

func (c *categoryCache) invalidate(id int64) {
	c.cache.Remove(id)
}
