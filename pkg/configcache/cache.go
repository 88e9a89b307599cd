// Package configcache memoizes per-tenant configuration loaded from the store.
//
// Entries never expire on their own. Every mutation of the underlying row
// must call Invalidate, after which the next Get reloads. A load that was
// already running when Invalidate was called may still return its value to
// its own caller, but it never repopulates the cache.
package configcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader reads the authoritative value for a key.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a memoizing read-through cache.
type Cache[K comparable, V any] struct {
	load Loader[K, V]

	mu      sync.RWMutex
	entries map[K]V
	gens    map[K]uint64

	group singleflight.Group
}

// New creates a cache backed by load.
func New[K comparable, V any](load Loader[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		load:    load,
		entries: make(map[K]V),
		gens:    make(map[K]uint64),
	}
}

// Get returns the cached value or loads it. Concurrent misses for the same
// key share one load. Errors are not cached.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	v, ok := c.entries[key]
	gen := c.gens[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(fmt.Sprintf("%v#%d", key, gen), func() (interface{}, error) {
		v, err := c.load(ctx, key)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops the entry and fences off loads already in flight.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
