package throttle

import (
	"context"

	"github.com/ks-hl/snailpoints/internal/kvstore"
)

// PersistentCounter is a per-key counter with no time decay. It only goes back to zero
// through Reset.
type PersistentCounter struct {
	store kvstore.Store[int]
}

// NewPersistentCounter creates a PersistentCounter over store
func NewPersistentCounter(store kvstore.Store[int]) *PersistentCounter {
	return &PersistentCounter{store: store}
}

// Increment adds one to key and returns the new value
func (c *PersistentCounter) Increment(ctx context.Context, key string) (int, error) {
	return c.store.Compute(ctx, key, func(current int, _ bool) (int, bool) {
		return current + 1, true
	})
}

// Reset sets key back to zero
func (c *PersistentCounter) Reset(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
