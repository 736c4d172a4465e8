package raster

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls int
}

func (l *countingLoader) Load(path string) (*Grid, error) {
	l.calls++
	return ReadGeoTIFF(path)
}

func TestCachedLoader_HitAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tchi.tif")
	require.NoError(t, WriteFileAtomic(path, rampGrid(3, 3)))

	inner := &countingLoader{}
	var hits, misses int
	c := NewCachedLoader(inner, 4)
	c.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}

	_, err := c.Load(path)
	require.NoError(t, err)
	_, err = c.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	// A rewritten file invalidates the entry.
	replacement := rampGrid(3, 3)
	replacement.Set(0, 0, 42)
	require.NoError(t, WriteFileAtomic(path, replacement))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	g, err := c.Load(path)
	require.NoError(t, err)
	assert.Equal(t, float32(42), g.At(0, 0))
	assert.Equal(t, 2, inner.calls)
}

func TestCachedLoader_Eviction(t *testing.T) {
	dir := t.TempDir()
	inner := &countingLoader{}
	c := NewCachedLoader(inner, 2)

	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".tif")
		require.NoError(t, WriteFileAtomic(paths[i], rampGrid(2, 2)))
		_, err := c.Load(paths[i])
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	// paths[0] was least recently used and is gone.
	_, err := c.Load(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls)

	_, err = c.Load(paths[2])
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls)
}

func TestCachedLoader_MissingFile(t *testing.T) {
	c := NewCachedLoader(FileLoader{}, 2)
	_, err := c.Load(filepath.Join(t.TempDir(), "missing.tif"))
	assert.Error(t, err)
}
