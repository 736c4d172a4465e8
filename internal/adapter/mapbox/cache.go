package mapbox

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/lru"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an expiring in-memory LRU.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[string, domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. Entries
// expire ttl after they are stored, measured on the domain clock.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   lru.NewWithTTL[string, domain.GeocodingResult](maxEntries, ttl, domain.Now),
		metrics: metrics,
	}
}

// ReverseGeocode answers from the cache when possible. Empty results are
// cached too; hotspots in open water resolve to nothing on every lookup.
// Errors are never cached.
func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := fmt.Sprintf("rev:%.4f,%.4f", lat, lon)
	if result, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookups.WithLabelValues("geocode", "hit").Inc()
		return result, nil
	}
	c.metrics.CacheLookups.WithLabelValues("geocode", "miss").Inc()
	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	c.cache.Put(key, result)
	return result, nil
}
