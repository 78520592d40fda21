// Package cache implements the reference-counted resource cache shared by the
// page cache and the version manager.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

// Loader builds the resource for key when it is not cached.
type Loader[T any] func(key uint64) (T, error)

// Evictor is invoked once the last reference to a resource is released.
type Evictor[T any] func(obj T)

// RefCache maps a 64-bit key to a shared resource. Every successful Get must
// be paired with exactly one Release; a resource is evicted when its
// reference count drops to zero.
type RefCache[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[uint64]T
	refs    map[uint64]int
	// keys currently being loaded or evicted
	loading map[uint64]struct{}

	maxResource int // 0 means unbounded
	load        Loader[T]
	evict       Evictor[T]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most maxResource resources.
func New[T any](maxResource int, load Loader[T], evict Evictor[T]) *RefCache[T] {
	c := &RefCache[T]{
		entries:     make(map[uint64]T),
		refs:        make(map[uint64]int),
		loading:     make(map[uint64]struct{}),
		maxResource: maxResource,
		load:        load,
		evict:       evict,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get returns the resource for key, loading it if needed. A caller racing an
// in-flight load of the same key waits for it. A full cache fails
// immediately with common.ErrCacheFull.
func (c *RefCache[T]) Get(key uint64) (T, error) {
	var zero T

	c.mu.Lock()
	for {
		if _, busy := c.loading[key]; busy {
			c.cond.Wait()
			continue
		}
		if obj, ok := c.entries[key]; ok {
			c.refs[key]++
			c.mu.Unlock()
			c.hits.Add(1)
			return obj, nil
		}
		if c.maxResource > 0 && len(c.entries)+len(c.loading) >= c.maxResource {
			c.mu.Unlock()
			return zero, common.ErrCacheFull
		}
		c.loading[key] = struct{}{}
		break
	}
	c.mu.Unlock()
	c.misses.Add(1)

	obj, err := c.loadKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loading, key)
	c.cond.Broadcast()
	if err != nil {
		return zero, err
	}
	c.entries[key] = obj
	c.refs[key] = 1
	return obj, nil
}

// loadKey runs the loader. If the loader panics, key's loading mark is
// cleared before the panic propagates so waiters are not stuck on it.
func (c *RefCache[T]) loadKey(key uint64) (obj T, err error) {
	returned := false
	defer func() {
		if !returned {
			c.clearLoading(key)
		}
	}()
	obj, err = c.load(key)
	returned = true
	return obj, err
}

func (c *RefCache[T]) clearLoading(key uint64) {
	c.mu.Lock()
	delete(c.loading, key)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Release drops one reference to key. Releasing a key that holds no
// reference is a programming error and panics.
func (c *RefCache[T]) Release(key uint64) {
	c.mu.Lock()
	ref, ok := c.refs[key]
	if !ok || ref <= 0 {
		c.mu.Unlock()
		panic(fmt.Errorf("%w: key %d", common.ErrReleaseUnheld, key))
	}
	if ref > 1 {
		c.refs[key] = ref - 1
		c.mu.Unlock()
		return
	}

	obj := c.entries[key]
	delete(c.entries, key)
	delete(c.refs, key)
	// Hold the key until write-back finishes so a concurrent Get cannot read
	// stale state from below.
	c.loading[key] = struct{}{}
	c.mu.Unlock()

	defer c.clearLoading(key)
	c.evict(obj)
}

// Close evicts every cached resource regardless of its reference count.
func (c *RefCache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, obj := range c.entries {
		c.evict(obj)
		delete(c.entries, key)
		delete(c.refs, key)
	}
}

// Refs reports the current reference count of key (0 when not cached).
func (c *RefCache[T]) Refs(key uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[key]
}

// Len returns the number of cached resources.
func (c *RefCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the number of cache hits and misses so far.
func (c *RefCache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
