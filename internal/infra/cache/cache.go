// Package cache provides in-memory caching for raw video metadata.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
)

// MetadataCache caches probe results by URL so repeated lookups don't hit
// the upstream again.
type MetadataCache struct {
	cache *gocache.Cache
}

// NewMetadataCache creates a new MetadataCache with the given TTL and cleanup interval.
func NewMetadataCache(ttl, cleanupInterval time.Duration) *MetadataCache {
	return &MetadataCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// Get retrieves metadata from cache.
func (c *MetadataCache) Get(url string) (*domain.RawMetadata, bool) {
	if item, found := c.cache.Get(url); found {
		if info, ok := item.(*domain.RawMetadata); ok {
			return info, true
		}
	}
	return nil, false
}

// Set stores metadata in cache.
func (c *MetadataCache) Set(url string, info *domain.RawMetadata) {
	c.cache.Set(url, info, gocache.DefaultExpiration)
}

// Delete removes metadata from cache.
func (c *MetadataCache) Delete(url string) {
	c.cache.Delete(url)
}
