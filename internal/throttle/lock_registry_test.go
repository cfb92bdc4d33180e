package throttle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/throttle"
)

func TestLockRegistry_SerializesSameKey(t *testing.T) {
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{}, clock.NewSystem())
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.WithLock(ctx, "alice", time.Second, func() error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLockRegistry_DifferentKeysRunInParallel(t *testing.T) {
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{}, clock.NewSystem())
	ctx := context.Background()

	releaseA, err := reg.Acquire(ctx, "alice", time.Second)
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := reg.Acquire(ctx, "bob", 10*time.Millisecond)
	require.NoError(t, err)
	releaseB()
}

func TestLockRegistry_Timeout(t *testing.T) {
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{}, clock.NewSystem())
	ctx := context.Background()

	release, err := reg.Acquire(ctx, "alice", time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = reg.Acquire(ctx, "alice", 30*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	release()
	release() // idempotent

	release, err = reg.Acquire(ctx, "alice", 30*time.Millisecond)
	require.NoError(t, err)
	release()
}

func TestLockRegistry_WithLockReturnsBodyError(t *testing.T) {
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{}, clock.NewSystem())
	boom := errors.New("boom")

	err := reg.WithLock(context.Background(), "alice", time.Second, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	err = reg.WithLock(context.Background(), "alice", 10*time.Millisecond, func() error { return nil })
	assert.NoError(t, err, "lock released after body error")
}

func TestLockRegistry_SweepEvictsIdleEntries(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{IdleTimeout: time.Minute}, clk)
	ctx := context.Background()

	release, err := reg.Acquire(ctx, "held", time.Second)
	require.NoError(t, err)
	defer release()

	idle, err := reg.Acquire(ctx, "idle", time.Second)
	require.NoError(t, err)
	idle()

	clk.Advance(30 * time.Second)
	recent, err := reg.Acquire(ctx, "recent", time.Second)
	require.NoError(t, err)
	recent()

	clk.Advance(31 * time.Second)
	evicted, err := reg.Sweep(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted, "only the unheld entry idle for more than a minute goes")
	assert.Equal(t, 2, reg.Len())
}

func TestLockRegistry_Capacity(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{Capacity: 2}, clk)
	ctx := context.Background()

	relA, err := reg.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)
	defer relA()

	relB, err := reg.Acquire(ctx, "b", time.Second)
	require.NoError(t, err)

	_, err = reg.Acquire(ctx, "c", time.Second)
	assert.ErrorIs(t, err, models.ErrServiceBusy, "all entries held")

	relB()
	clk.Advance(time.Second)

	relC, err := reg.Acquire(ctx, "c", time.Second)
	require.NoError(t, err, "unheld entry is recycled")
	relC()
	assert.Equal(t, 2, reg.Len())
}

func TestLockRegistry_CancelledContext(t *testing.T) {
	reg := throttle.NewLockRegistry(throttle.LockRegistryConfig{}, clock.NewSystem())

	release, err := reg.Acquire(context.Background(), "alice", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = reg.Acquire(ctx, "alice", time.Second)
	assert.Error(t, err)
}
