package kvstore

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// TimedMutex is a mutual exclusion lock whose acquisition can give up after a bounded wait.
// The zero value is not usable; create one with NewTimedMutex.
type TimedMutex struct {
	sem *semaphore.Weighted
}

// NewTimedMutex creates an unlocked TimedMutex
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{sem: semaphore.NewWeighted(1)}
}

// TryLockFor acquires the lock, waiting at most timeout or until ctx is done.
// A free lock is taken even when ctx is already done.
// Returns false if the lock could not be acquired.
func (m *TimedMutex) TryLockFor(ctx context.Context, timeout time.Duration) bool {
	if m.sem.TryAcquire(1) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.sem.Acquire(waitCtx, 1) == nil
}

// Lock acquires the lock without a bound. Only for release paths that must not fail.
func (m *TimedMutex) Lock() {
	_ = m.sem.Acquire(context.Background(), 1)
}

// Unlock releases the lock. Unlocking an unlocked TimedMutex panics.
func (m *TimedMutex) Unlock() {
	m.sem.Release(1)
}
