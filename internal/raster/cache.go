package raster

import (
	"os"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/lru"
)

// Loader reads a processed raster from disk.
type Loader interface {
	Load(path string) (*Grid, error)
}

// FileLoader decodes the GeoTIFF on every call.
type FileLoader struct{}

func (FileLoader) Load(path string) (*Grid, error) { return ReadGeoTIFF(path) }

// CachedLoader wraps a Loader with an in-memory LRU of decoded grids. An
// entry is reused only while the file's size and modification time are
// unchanged, so a recomputed output is picked up on the next load. Cached
// grids are shared between callers and must not be modified.
type CachedLoader struct {
	inner Loader
	cache *lru.Cache[string, cached]
	// OnLookup, when set, observes every lookup with hit=true for cache hits.
	OnLookup func(hit bool)
}

// NewCachedLoader creates a cache decorator holding at most maxEntries grids.
func NewCachedLoader(inner Loader, maxEntries int) *CachedLoader {
	return &CachedLoader{inner: inner, cache: lru.New[string, cached](maxEntries)}
}

func (c *CachedLoader) Load(path string) (*Grid, error) {
	info, err := os.Stat(path)
	if err != nil {
		return c.inner.Load(path)
	}
	if e, ok := c.cache.Get(path); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		c.observe(true)
		return e.grid, nil
	}
	c.observe(false)
	g, err := c.inner.Load(path)
	if err != nil {
		return nil, err
	}
	c.cache.Put(path, cached{grid: g, size: info.Size(), modTime: info.ModTime()})
	return g, nil
}

func (c *CachedLoader) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}

type cached struct {
	grid    *Grid
	size    int64
	modTime time.Time
}
