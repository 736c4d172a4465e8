// Package lru provides a size-bounded, optionally expiring cache.
package lru

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a thread-safe least-recently-used cache. With a TTL, entries
// older than the TTL are treated as absent and dropped on access.
type Cache[K comparable, V any] struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	order   *list.List // front is most recently used
	entries map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// New creates a cache holding at most maxEntries values without expiry.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	return NewWithTTL[K, V](maxEntries, 0, time.Now)
}

// NewWithTTL creates a cache whose entries expire ttl after insertion,
// as measured by now.
func NewWithTTL[K comparable, V any](maxEntries int, ttl time.Duration, now func() time.Time) *Cache[K, V] {
	return &Cache[K, V]{
		maxEntries: max(1, maxEntries),
		ttl:        ttl,
		now:        now,
		order:      list.New(),
		entries:    make(map[K]*list.Element),
	}
}

// Get returns the live value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.ttl > 0 && !c.now().Before(e.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when full.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expires: expires})
	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[K, V]).key)
	}
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
