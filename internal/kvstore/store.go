// Package kvstore is the concurrency-safe key-value abstraction behind the throttling
// counters and challenge stores. The in-process MemoryStore can be replaced by any
// implementation honouring the same atomicity contract.
package kvstore

import (
	"context"
)

// ComputeFunc receives the current value for a key (exists is false when absent) and returns
// the value to store. Returning keep=false deletes the key.
type ComputeFunc[V any] func(current V, exists bool) (next V, keep bool)

// Store is a string-keyed store with atomic per-key read-modify-write.
// Every method returns an error wrapping models.ErrServiceBusy when the store cannot
// acquire its internal protection within its contention ceiling.
type Store[V any] interface {
	// Compute atomically replaces the value for key with fn's result.
	// fn must not call back into the same store.
	Compute(ctx context.Context, key string, fn ComputeFunc[V]) (V, error)
	Get(ctx context.Context, key string) (V, bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIf removes every entry matching pred and reports how many were removed
	DeleteIf(ctx context.Context, pred func(key string, value V) bool) (int, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
