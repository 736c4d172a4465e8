package lru_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/lru"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := lru.New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a") // a is now most recent
	require.True(t, ok)
	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestCache_PutReplaces(t *testing.T) {
	c := lru.New[string, int](2)
	c.Put("a", 1)
	c.Put("a", 5)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_TTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := lru.NewWithTTL[string, string](10, time.Hour, clock.Now)
	c.Put("k", "v")

	clock.Advance(59 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired at the TTL")
	assert.Zero(t, c.Len())
}

func TestCache_MinimumSize(t *testing.T) {
	c := lru.New[int, int](0)
	c.Put(1, 1)
	_, ok := c.Get(1)
	assert.True(t, ok)
}
