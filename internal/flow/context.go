package flow

import (
	"context"
	"sync"
)

// KeyContext is the per-key handle handed to user state at construction. A
// key pins an offset with Hold to veto commits past it while work is
// outstanding, clears the pin with Release, and drops itself from the
// partition with Remove when it has nothing left to do.
//
// Hold state is mutated only by the owning key's flow and timer callbacks;
// the partition flow reads it during commit arbitration.
type KeyContext struct {
	mu      sync.Mutex
	hold    Offset
	holding bool
	remove  func(ctx context.Context) error
}

// NewKeyContext builds a context with the given removal hook. The partition
// flow wires the hook to its cache; a nil hook makes Remove a no-op, which
// suits state tests.
func NewKeyContext(remove func(ctx context.Context) error) *KeyContext {
	if remove == nil {
		remove = func(context.Context) error { return nil }
	}
	return &KeyContext{remove: remove}
}

// Hold pins the smallest offset whose processing is still outstanding.
func (c *KeyContext) Hold(offset Offset) {
	c.mu.Lock()
	c.hold = offset
	c.holding = true
	c.mu.Unlock()
}

// Release clears the pin; the key no longer blocks commits.
func (c *KeyContext) Release() {
	c.mu.Lock()
	c.holding = false
	c.mu.Unlock()
}

// Holding reports the pinned offset, if any.
func (c *KeyContext) Holding() (Offset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hold, c.holding
}

// Remove drops the key from the partition's cache and releases its
// resources. Idempotent.
func (c *KeyContext) Remove(ctx context.Context) error {
	return c.remove(ctx)
}
