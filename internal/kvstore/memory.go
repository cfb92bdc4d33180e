package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ks-hl/snailpoints/internal/models"
)

const (
	DefaultShards  = 16
	DefaultCeiling = 3 * time.Second
)

// MemoryConfig holds tuning for MemoryStore
type MemoryConfig struct {
	Shards  int           // number of independently locked partitions
	Ceiling time.Duration // longest wait for a partition lock before ErrServiceBusy
}

type shard[V any] struct {
	mu    *TimedMutex
	items map[string]V
}

// MemoryStore is a sharded, mutex-guarded in-process Store
type MemoryStore[V any] struct {
	shards  []*shard[V]
	ceiling time.Duration
}

// NewMemoryStore creates an empty MemoryStore. Zero config fields take defaults.
func NewMemoryStore[V any](cfg MemoryConfig) *MemoryStore[V] {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}

	shards := make([]*shard[V], cfg.Shards)
	for i := range shards {
		shards[i] = &shard[V]{
			mu:    NewTimedMutex(),
			items: make(map[string]V),
		}
	}

	return &MemoryStore[V]{
		shards:  shards,
		ceiling: cfg.Ceiling,
	}
}

func (s *MemoryStore[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *MemoryStore[V]) lock(ctx context.Context, sh *shard[V]) error {
	if !sh.mu.TryLockFor(ctx, s.ceiling) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrServiceBusy, err)
		}
		return fmt.Errorf("%w: store lock not acquired within %s", models.ErrServiceBusy, s.ceiling)
	}
	return nil
}

func (s *MemoryStore[V]) Compute(ctx context.Context, key string, fn ComputeFunc[V]) (V, error) {
	sh := s.shardFor(key)
	if err := s.lock(ctx, sh); err != nil {
		var zero V
		return zero, err
	}
	defer sh.mu.Unlock()

	current, exists := sh.items[key]
	next, keep := fn(current, exists)
	if keep {
		sh.items[key] = next
	} else {
		delete(sh.items, key)
	}
	return next, nil
}

func (s *MemoryStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	sh := s.shardFor(key)
	if err := s.lock(ctx, sh); err != nil {
		var zero V
		return zero, false, err
	}
	defer sh.mu.Unlock()

	v, ok := sh.items[key]
	return v, ok, nil
}

func (s *MemoryStore[V]) Delete(ctx context.Context, key string) error {
	sh := s.shardFor(key)
	if err := s.lock(ctx, sh); err != nil {
		return err
	}
	defer sh.mu.Unlock()

	delete(sh.items, key)
	return nil
}

func (s *MemoryStore[V]) DeleteIf(ctx context.Context, pred func(key string, value V) bool) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := s.lock(ctx, sh); err != nil {
			return removed, err
		}
		for k, v := range sh.items {
			if pred(k, v) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore[V]) Len(ctx context.Context) (int, error) {
	total := 0
	for _, sh := range s.shards {
		if err := s.lock(ctx, sh); err != nil {
			return 0, err
		}
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total, nil
}

func (s *MemoryStore[V]) Clear(ctx context.Context) error {
	for _, sh := range s.shards {
		if err := s.lock(ctx, sh); err != nil {
			return err
		}
		clear(sh.items)
		sh.mu.Unlock()
	}
	return nil
}

var _ Store[int] = (*MemoryStore[int])(nil)
