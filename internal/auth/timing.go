package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/ks-hl/snailpoints/internal/clock"
)

// TimingConfig holds configuration for minimum response latency
type TimingConfig struct {
	BaseDelay   time.Duration // Minimum time an operation takes, measured from its start
	RandomDelay time.Duration // Extra random delay range added on top of BaseDelay
}

// TimingDelay pads operations to a minimum duration so that success, failure and unknown
// identities are indistinguishable by response time
type TimingDelay struct {
	config TimingConfig
	clock  clock.Clock
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig, clk clock.Clock) *TimingDelay {
	return &TimingDelay{
		config: config,
		clock:  clk,
	}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) (time.Duration, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return time.Duration(randomValue % uint64(max)), nil
}

// Target returns the total duration the next operation should take
func (td *TimingDelay) Target() time.Duration {
	target := td.config.BaseDelay
	if extra, err := cryptoRandDuration(td.config.RandomDelay); err == nil {
		target += extra
	}
	return target
}

// WaitFrom sleeps until at least Target() has elapsed since startTime.
// Returns early with ctx.Err() if ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time) error {
	elapsed := td.clock.Now().Sub(startTime)
	if remaining := td.Target() - elapsed; remaining > 0 {
		return td.clock.Sleep(ctx, remaining)
	}
	return nil
}
