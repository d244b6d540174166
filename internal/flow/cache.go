package flow

import (
	"context"
	"sync"
)

// Cache is a concurrent key → value map with at-most-one construction per
// key and a per-entry release hook. It backs the partition's set of live
// keys.
//
// Lifecycle of a slot: absent → loading → ready → released. Concurrent
// GetOrCreate calls for one key observe the same construction; a failed
// build clears the slot so the next access starts a new generation.
type Cache[V any] struct {
	release func(ctx context.Context, value V) error

	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
	closed  bool
}

type cacheEntry[V any] struct {
	done    chan struct{}
	value   V
	err     error
	removed bool
}

// NewCache builds a Cache whose entries are released with the given hook.
func NewCache[V any](release func(ctx context.Context, value V) error) *Cache[V] {
	if release == nil {
		release = func(context.Context, V) error { return nil }
	}
	return &Cache[V]{release: release, entries: make(map[string]*cacheEntry[V])}
}

// GetOrCreate returns the value for key, running build exactly once while
// concurrent callers for the same key await the same result. A build failure
// is surfaced to every waiter and the slot is cleared.
func (c *Cache[V]) GetOrCreate(ctx context.Context, key string, build func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrCacheClosed
	}
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return c.await(ctx, e)
	}
	e := &cacheEntry[V]{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.value, e.err = build(ctx)

	c.mu.Lock()
	removed := e.removed
	if (e.err != nil || removed) && c.entries[key] == e {
		delete(c.entries, key)
	}
	close(e.done)
	c.mu.Unlock()

	if e.err != nil {
		return zero, e.err
	}
	// A Remove raced the build: publish to waiters, then release right away.
	if removed {
		if err := c.release(ctx, e.value); err != nil {
			return zero, err
		}
	}
	return e.value, nil
}

func (c *Cache[V]) await(ctx context.Context, e *cacheEntry[V]) (V, error) {
	var zero V
	select {
	case <-e.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if e.err != nil {
		return zero, e.err
	}
	return e.value, nil
}

// Remove marks the slot absent and releases the entry. A build in flight is
// not aborted; its value is released immediately after publication.
// Idempotent.
func (c *Cache[V]) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, key)
	select {
	case <-e.done:
	default:
		// Still loading; the builder releases after publication.
		e.removed = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if e.err != nil {
		return nil
	}
	return c.release(ctx, e.value)
}

// Values snapshots the ready-or-loading entries and awaits the loads it
// observed. Entries created after the snapshot are not returned; entries
// whose build failed are skipped.
func (c *Cache[V]) Values(ctx context.Context) ([]V, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	snapshot := make([]*cacheEntry[V], 0, len(c.entries))
	for _, e := range c.entries {
		snapshot = append(snapshot, e)
	}
	c.mu.Unlock()

	values := make([]V, 0, len(snapshot))
	for _, e := range snapshot {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err == nil {
			values = append(values, e.value)
		}
	}
	return values, nil
}

// Close releases every live entry and fails all later calls with
// ErrCacheClosed. The first release error is reported; release continues
// regardless.
func (c *Cache[V]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	var first error
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.err != nil || e.removed {
			continue
		}
		if err := c.release(ctx, e.value); err != nil && first == nil {
			first = err
		}
	}
	return first
}
