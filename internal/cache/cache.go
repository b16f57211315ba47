package cache

import (
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when the backing store has no row for the
// requested id.
var ErrNotFound = errors.New("cache: record not found")

// Cache is a read-through, identity-stable object cache keyed by id.
// Every caller observes the same shared instance for a given id until it
// is invalidated; concurrent misses for one id collapse into a single
// load, so two callers can never construct two distinct objects.
//
// The cache, not the store, is authoritative once populated: deleting the
// backing row without invalidating still returns the cached instance.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
	group   singleflight.Group
	load    func(id string) (T, error)
}

func newCache[T any](load func(id string) (T, error)) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]T),
		load:    load,
	}
}

// Get returns the shared instance for id, reading through to the store on
// a miss. ErrNotFound means no such record exists.
func (c *Cache[T]) Get(id string) (T, error) {
	c.mu.RLock()
	v, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(id, func() (any, error) {
		// Another flight may have populated between the read check and
		// entering the group.
		c.mu.RLock()
		v, ok := c.entries[id]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		loaded, err := c.load(id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[id] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Peek returns the cached instance without reading through.
func (c *Cache[T]) Peek(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[id]
	return v, ok
}

// Invalidate drops the entry for id so the next Get re-reads the store.
func (c *Cache[T]) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]T)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
