package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 1024
)

type Config struct {
	TTL  time.Duration
	Size int
}

// Cache is a bounded, expiring read-through cache keyed by normalized query strings.
// Invalidation bumps a generation counter so a load that started before the
// invalidation never repopulates the cache with data read before the write.
type Cache[V any] struct {
	entries    *expirable.LRU[string, V]
	loads      singleflight.Group
	generation atomic.Uint64
}

func New[V any](cfg Config) *Cache[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache[V]{
		entries: expirable.NewLRU[string, V](size, nil, ttl),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.entries.Get(key)
}

func (c *Cache[V]) Set(key string, value V) {
	c.entries.Add(key, value)
}

// Fetch returns the cached value for key, or calls load once per key across concurrent
// callers and stores the result. hit reports whether the value came from the cache.
func (c *Cache[V]) Fetch(ctx context.Context, key string, load func(context.Context) (V, error)) (V, bool, error) {
	if value, ok := c.entries.Get(key); ok {
		return value, true, nil
	}

	generation := c.generation.Load()
	result, err, _ := c.loads.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		if c.generation.Load() == generation {
			c.entries.Add(key, value)
		}
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return result.(V), false, nil
}

// InvalidatePrefix removes every key starting with prefix and reports how many were removed.
// An empty prefix purges the whole cache.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	c.generation.Add(1)
	if prefix == "" {
		removed := c.entries.Len()
		c.entries.Purge()
		return removed
	}
	removed := 0
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) && c.entries.Remove(key) {
			removed++
		}
	}
	return removed
}

func (c *Cache[V]) Purge() {
	c.InvalidatePrefix("")
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
