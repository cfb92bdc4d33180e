package services

import (
	"context"
	"strings"
	"time"

	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	"github.com/ks-hl/snailpoints/internal/models"
)

// ResendGate limits how often a challenge can be mailed to one recipient
type ResendGate struct {
	lastSent kvstore.Store[time.Time]
	cooldown time.Duration
	clock    clock.Clock
}

// NewResendGate creates a gate allowing one message per recipient per cooldown
func NewResendGate(cooldown time.Duration, store kvstore.Store[time.Time], clk clock.Clock) *ResendGate {
	return &ResendGate{
		lastSent: store,
		cooldown: cooldown,
		clock:    clk,
	}
}

// Allow records a send to recipient (case-insensitive) or returns a *models.ResendCooldownError
// carrying the whole seconds, rounded up, until the next send is allowed
func (g *ResendGate) Allow(ctx context.Context, recipient string) error {
	now := g.clock.Now()
	var remaining time.Duration

	_, err := g.lastSent.Compute(ctx, strings.ToLower(recipient), func(last time.Time, exists bool) (time.Time, bool) {
		if exists {
			if elapsed := now.Sub(last); elapsed < g.cooldown {
				remaining = g.cooldown - elapsed
				return last, true
			}
		}
		return now, true
	})
	if err != nil {
		return err
	}

	if remaining > 0 {
		seconds := int((remaining + time.Second - 1) / time.Second)
		return &models.ResendCooldownError{SecondsRemaining: seconds}
	}
	return nil
}

// Sweep forgets recipients whose cooldown has passed
func (g *ResendGate) Sweep(ctx context.Context) (int, error) {
	now := g.clock.Now()
	return g.lastSent.DeleteIf(ctx, func(_ string, last time.Time) bool {
		return now.Sub(last) >= g.cooldown
	})
}
