package throttle

import (
	"context"
	"time"

	"github.com/ks-hl/snailpoints/internal/kvstore"
)

// SlidingWindowCounter keeps recent event timestamps per key and counts how many fall
// inside a trailing window. Timestamps older than the retention horizon are discarded
// whenever the key is touched.
type SlidingWindowCounter struct {
	store     kvstore.Store[[]time.Time]
	retention time.Duration
}

// NewSlidingWindowCounter creates a counter retaining events for at least retention
func NewSlidingWindowCounter(store kvstore.Store[[]time.Time], retention time.Duration) *SlidingWindowCounter {
	return &SlidingWindowCounter{
		store:     store,
		retention: retention,
	}
}

// Record appends an event at ts for key
func (c *SlidingWindowCounter) Record(ctx context.Context, key string, ts time.Time) error {
	_, err := c.store.Compute(ctx, key, func(current []time.Time, _ bool) ([]time.Time, bool) {
		kept := retainSince(current, ts, c.retention)
		return append(kept, ts), true
	})
	return err
}

// CountWithin prunes stale events for key and returns how many occurred in (now-window, now].
// Pruning never drops events younger than the retention horizon, so querying a short window
// does not lose data needed by a longer one.
func (c *SlidingWindowCounter) CountWithin(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	horizon := max(c.retention, window)
	count := 0

	_, err := c.store.Compute(ctx, key, func(current []time.Time, exists bool) ([]time.Time, bool) {
		if !exists {
			return nil, false
		}
		kept := retainSince(current, now, horizon)
		for _, ts := range kept {
			if now.Sub(ts) <= window {
				count++
			}
		}
		return kept, len(kept) > 0
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Clear forgets every event for key
func (c *SlidingWindowCounter) Clear(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// ClearAll forgets every event for every key
func (c *SlidingWindowCounter) ClearAll(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Sweep drops keys whose newest event is older than the retention horizon
func (c *SlidingWindowCounter) Sweep(ctx context.Context, now time.Time) (int, error) {
	return c.store.DeleteIf(ctx, func(_ string, events []time.Time) bool {
		for _, ts := range events {
			if now.Sub(ts) <= c.retention {
				return false
			}
		}
		return true
	})
}

func retainSince(events []time.Time, now time.Time, horizon time.Duration) []time.Time {
	kept := make([]time.Time, 0, len(events)+1)
	for _, ts := range events {
		if now.Sub(ts) <= horizon {
			kept = append(kept, ts)
		}
	}
	return kept
}
