package throttle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	"github.com/ks-hl/snailpoints/internal/models"
)

const (
	DefaultLockIdleTimeout = 60 * time.Second
	DefaultLockCapacity    = 100_000
	maxFreeEntries         = 1024
)

// LockRegistryConfig holds tuning for LockRegistry
type LockRegistryConfig struct {
	IdleTimeout time.Duration // unheld entries older than this are evicted by Sweep
	Capacity    int           // maximum number of live entries
	Ceiling     time.Duration // longest wait for the registry guard before ErrServiceBusy
}

type lockEntry struct {
	mu           *kvstore.TimedMutex
	refs         int          // holders plus waiters, guarded by the registry guard
	lastAcquired atomic.Int64 // unix nanos
}

// LockRegistry hands out one exclusive lock per key. Entries are created on demand,
// evicted once idle and recycled through a free list, and the number of live entries
// is bounded by Capacity.
type LockRegistry struct {
	guard   *kvstore.TimedMutex
	entries map[string]*lockEntry
	free    []*lockEntry
	cfg     LockRegistryConfig
	clock   clock.Clock
}

// NewLockRegistry creates an empty registry. Zero config fields take defaults.
func NewLockRegistry(cfg LockRegistryConfig, clk clock.Clock) *LockRegistry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultLockIdleTimeout
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultLockCapacity
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = kvstore.DefaultCeiling
	}

	return &LockRegistry{
		guard:   kvstore.NewTimedMutex(),
		entries: make(map[string]*lockEntry),
		cfg:     cfg,
		clock:   clk,
	}
}

// Acquire takes the lock for key, waiting at most timeout. The returned release func is
// idempotent. Returns models.ErrLockTimeout when the wait expires and models.ErrServiceBusy
// when the registry itself is contended or full.
func (r *LockRegistry) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	if !r.guard.TryLockFor(ctx, r.cfg.Ceiling) {
		return nil, fmt.Errorf("%w: lock registry guard not acquired within %s", models.ErrServiceBusy, r.cfg.Ceiling)
	}

	e, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= r.cfg.Capacity && !r.evictOneLocked() {
			r.guard.Unlock()
			return nil, fmt.Errorf("%w: lock registry full", models.ErrServiceBusy)
		}
		e = r.allocLocked()
		e.lastAcquired.Store(r.clock.Now().UnixNano())
		r.entries[key] = e
	}
	e.refs++
	r.guard.Unlock()

	if !e.mu.TryLockFor(ctx, timeout) {
		r.guard.Lock()
		e.refs--
		r.guard.Unlock()
		return nil, models.ErrLockTimeout
	}
	e.lastAcquired.Store(r.clock.Now().UnixNano())

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.guard.Lock()
			e.refs--
			r.guard.Unlock()
		})
	}, nil
}

// WithLock runs body while holding the lock for key
func (r *LockRegistry) WithLock(ctx context.Context, key string, timeout time.Duration, body func() error) error {
	release, err := r.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer release()
	return body()
}

// Sweep evicts entries that are neither held nor awaited and were last acquired more than
// IdleTimeout before now. Returns the number evicted.
func (r *LockRegistry) Sweep(ctx context.Context, now time.Time) (int, error) {
	if !r.guard.TryLockFor(ctx, r.cfg.Ceiling) {
		return 0, fmt.Errorf("%w: lock registry guard not acquired within %s", models.ErrServiceBusy, r.cfg.Ceiling)
	}
	defer r.guard.Unlock()

	cutoff := now.Add(-r.cfg.IdleTimeout).UnixNano()
	evicted := 0
	for key, e := range r.entries {
		if e.refs == 0 && e.lastAcquired.Load() < cutoff {
			r.releaseLocked(key, e)
			evicted++
		}
	}
	return evicted, nil
}

// Len reports the number of live entries
func (r *LockRegistry) Len() int {
	r.guard.Lock()
	defer r.guard.Unlock()
	return len(r.entries)
}

// evictOneLocked frees the least recently acquired unheld entry
func (r *LockRegistry) evictOneLocked() bool {
	var (
		oldestKey string
		oldest    *lockEntry
	)
	for key, e := range r.entries {
		if e.refs != 0 {
			continue
		}
		if oldest == nil || e.lastAcquired.Load() < oldest.lastAcquired.Load() {
			oldestKey, oldest = key, e
		}
	}
	if oldest == nil {
		return false
	}
	r.releaseLocked(oldestKey, oldest)
	return true
}

func (r *LockRegistry) allocLocked() *lockEntry {
	if n := len(r.free); n > 0 {
		e := r.free[n-1]
		r.free = r.free[:n-1]
		return e
	}
	return &lockEntry{mu: kvstore.NewTimedMutex()}
}

func (r *LockRegistry) releaseLocked(key string, e *lockEntry) {
	delete(r.entries, key)
	if len(r.free) < maxFreeEntries {
		e.lastAcquired.Store(0)
		r.free = append(r.free, e)
	}
}
