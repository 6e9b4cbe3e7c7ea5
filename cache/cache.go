// Package cache holds the named, generation-versioned caches used in front of
// the question bank.
//
// Every named cache has a generation. Invalidation bumps the generation of
// each named cache in one atomic step, which empties it. A loader captures the
// generation before reading from the database and stores its result under that
// generation only, so a fill computed before a write committed can never be
// served after the write's invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"
)

// Store is the backend shared by all named caches.
type Store interface {
	Generation(ctx context.Context, name string) (uint64, error)
	Get(ctx context.Context, name string, gen uint64, key string) ([]byte, bool, error)
	Put(ctx context.Context, name string, gen uint64, key string, value []byte, ttl time.Duration) error
	// Invalidate empties every named cache in one atomic operation.
	Invalidate(ctx context.Context, names ...string) error
}

// Named is anything identified by a cache name.
type Named interface {
	Name() string
}

// Cache is a typed view over one named cache in a Store. Values are stored
// JSON encoded, so callers never share memory with the cache.
type Cache[V any] struct {
	name  string
	store Store
	ttl   time.Duration
	group singleflight.Group
}

func New[V any](store Store, name string, ttl time.Duration) *Cache[V] {
	return &Cache[V]{name: name, store: store, ttl: ttl}
}

func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the value cached under key in the current generation.
// Backend errors are logged and reported as a miss.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	gen, err := c.store.Generation(ctx, c.name)
	if err != nil {
		glog.Warningf("cache %s: reading generation: %v", c.name, err)
		return zero, false
	}
	return c.get(ctx, gen, key)
}

// Put stores value under key in the current generation.
func (c *Cache[V]) Put(ctx context.Context, key string, value V) {
	gen, err := c.store.Generation(ctx, c.name)
	if err != nil {
		glog.Warningf("cache %s: reading generation: %v", c.name, err)
		return
	}
	c.put(ctx, gen, key, value)
}

// EvictAll empties this cache only. Use Invalidate to empty several caches
// together.
func (c *Cache[V]) EvictAll(ctx context.Context) error {
	return c.store.Invalidate(ctx, c.name)
}

// GetOrLoad returns the cached value for key, or runs load and caches its
// result. Concurrent misses on the same key share one load. The shared load
// runs detached from any one caller's cancellation; a caller whose ctx ends
// stops waiting and gets ctx.Err(). A result loaded while an invalidation
// happened is returned to the caller but never cached for later readers.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	var zero V

	gen, err := c.store.Generation(ctx, c.name)
	if err != nil {
		glog.Warningf("cache %s: reading generation, loading uncached: %v", c.name, err)
		return load(ctx)
	}

	if v, ok := c.get(ctx, gen, key); ok {
		glog.V(2).Infof("cache %s: hit %s", c.name, key)
		return v, nil
	}
	glog.V(2).Infof("cache %s: miss %s", c.name, key)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprintf("%d/%s", gen, key), func() (interface{}, error) {
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.put(loadCtx, gen, key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[V]) get(ctx context.Context, gen uint64, key string) (V, bool) {
	var v V
	raw, ok, err := c.store.Get(ctx, c.name, gen, key)
	if err != nil {
		glog.Warningf("cache %s: get %s: %v", c.name, key, err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		glog.Warningf("cache %s: decoding %s: %v", c.name, key, err)
		return v, false
	}
	return v, true
}

func (c *Cache[V]) put(ctx context.Context, gen uint64, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		glog.Warningf("cache %s: encoding %s: %v", c.name, key, err)
		return
	}
	if err := c.store.Put(ctx, c.name, gen, key, raw, c.ttl); err != nil {
		glog.Warningf("cache %s: put %s: %v", c.name, key, err)
	}
}

// Invalidate empties all the given caches in one atomic store operation.
func Invalidate(ctx context.Context, store Store, caches ...Named) error {
	names := make([]string, len(caches))
	for i, c := range caches {
		names[i] = c.Name()
	}
	return store.Invalidate(ctx, names...)
}
