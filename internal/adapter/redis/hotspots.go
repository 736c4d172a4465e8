// Package redis caches hotspot query results in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/tchi-pipeline/internal/config"
	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

const keyPrefix = "tchi:hotspots:"

// Client is the subset of the go-redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// NewClient opens a Redis client for the configured address. It returns nil
// when REDIS_ADDR is unset.
func NewClient(cfg *config.Config) *goredis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// HotspotCache stores hotspot lists as JSON under one key per date and count.
// It implements query.HotspotCache.
type HotspotCache struct {
	client Client
	ttl    time.Duration
}

// NewHotspotCache wraps client. Entries expire after ttl.
func NewHotspotCache(client Client, ttl time.Duration) *HotspotCache {
	return &HotspotCache{client: client, ttl: ttl}
}

// Key returns the cache key of a date and count.
func Key(date domain.Date, count int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, date, count)
}

func (c *HotspotCache) Get(ctx context.Context, date domain.Date, count int) ([]domain.Hotspot, bool, error) {
	raw, err := c.client.Get(ctx, Key(date, count)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get hotspots %s: %w", date, err)
	}
	var hs []domain.Hotspot
	if err := json.Unmarshal(raw, &hs); err != nil {
		// A malformed entry counts as a miss; the next Set overwrites it.
		return nil, false, nil
	}
	return hs, true, nil
}

func (c *HotspotCache) Set(ctx context.Context, date domain.Date, count int, hotspots []domain.Hotspot) error {
	if hotspots == nil {
		hotspots = []domain.Hotspot{}
	}
	data, err := json.Marshal(hotspots)
	if err != nil {
		return fmt.Errorf("encode hotspots: %w", err)
	}
	if err := c.client.Set(ctx, Key(date, count), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set hotspots %s: %w", date, err)
	}
	return nil
}
