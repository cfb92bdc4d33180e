package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/throttle"
	"github.com/ks-hl/snailpoints/pkg/logger"
)

// IdentityResolver maps a submitted username to an account id
type IdentityResolver interface {
	// ResolveUsername matches case-insensitively. found is false for unknown usernames.
	ResolveUsername(ctx context.Context, username string) (uid string, found bool, err error)
}

// CredentialVerifier checks a password against the stored credential for uid.
// An empty uid never matches but must cost the same as a real check.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, uid, password string) (bool, error)
}

// BanSink durably bans a source address. Repeated bans of one address must be harmless.
type BanSink interface {
	Ban(ctx context.Context, sourceAddress string) error
}

// RateWindow rejects an attempt once Limit failures fall inside the trailing Window
type RateWindow struct {
	Limit  int
	Window time.Duration
}

// LoginGuardConfig holds the login throttling thresholds
type LoginGuardConfig struct {
	LockWait        time.Duration // longest wait for the per-username lock
	Windows         []RateWindow  // applied to both the username and the source address
	BanThreshold    int           // persistent attempts above this ban the source
	WindowRetention time.Duration // how long failure timestamps are kept
	Locks           throttle.LockRegistryConfig
	Store           kvstore.MemoryConfig
}

// DefaultLoginGuardConfig returns the production thresholds
func DefaultLoginGuardConfig() LoginGuardConfig {
	return LoginGuardConfig{
		LockWait: 3 * time.Second,
		Windows: []RateWindow{
			{Limit: 3, Window: time.Minute},
			{Limit: 5, Window: 5 * time.Minute},
		},
		BanThreshold:    30,
		WindowRetention: 5 * time.Minute,
		Locks: throttle.LockRegistryConfig{
			IdleTimeout: throttle.DefaultLockIdleTimeout,
			Capacity:    throttle.DefaultLockCapacity,
			Ceiling:     kvstore.DefaultCeiling,
		},
		Store: kvstore.MemoryConfig{
			Shards:  kvstore.DefaultShards,
			Ceiling: kvstore.DefaultCeiling,
		},
	}
}

// LoginGuard decides whether a login attempt may proceed. Attempts for one username are
// serialized including the minimum-latency pad, and failures are tracked per username and
// per source address.
type LoginGuard struct {
	resolver   IdentityResolver
	verifier   CredentialVerifier
	bans       BanSink
	locks      *throttle.LockRegistry
	usernames  *throttle.SlidingWindowCounter
	sources    *throttle.SlidingWindowCounter
	persistent *throttle.PersistentCounter
	timing     *auth.TimingDelay
	clock      clock.Clock
	config     LoginGuardConfig
	audit      *logger.AuditLogger
	logger     *slog.Logger
}

// NewLoginGuard creates a LoginGuard with empty in-memory throttling state
func NewLoginGuard(
	resolver IdentityResolver,
	verifier CredentialVerifier,
	bans BanSink,
	timing *auth.TimingDelay,
	clk clock.Clock,
	config LoginGuardConfig,
	log *slog.Logger,
) *LoginGuard {
	return &LoginGuard{
		resolver:   resolver,
		verifier:   verifier,
		bans:       bans,
		locks:      throttle.NewLockRegistry(config.Locks, clk),
		usernames:  throttle.NewSlidingWindowCounter(kvstore.NewMemoryStore[[]time.Time](config.Store), config.WindowRetention),
		sources:    throttle.NewSlidingWindowCounter(kvstore.NewMemoryStore[[]time.Time](config.Store), config.WindowRetention),
		persistent: throttle.NewPersistentCounter(kvstore.NewMemoryStore[int](config.Store)),
		timing:     timing,
		clock:      clk,
		config:     config,
		audit:      logger.NewAuditLogger(log),
		logger:     log,
	}
}

// Attempt runs one login attempt and returns the account id on success.
// Errors: models.ErrInvalidCredentials for a wrong password, unknown username or lock wait
// timeout; *models.RateLimitedError when a window is full; models.ErrServiceBusy (wrapped)
// when internal state or a collaborator is unavailable. Every outcome takes at least the
// configured minimum delay.
func (g *LoginGuard) Attempt(ctx context.Context, username, password, sourceAddress string) (string, error) {
	start := g.clock.Now()
	key := strings.ToLower(username)

	if _, err := g.locks.Sweep(ctx, start); err != nil {
		g.pad(ctx, start)
		return "", err
	}

	uid, found, err := g.resolver.ResolveUsername(ctx, username)
	if err != nil {
		g.pad(ctx, start)
		return "", fmt.Errorf("%w: resolve username: %v", models.ErrServiceBusy, err)
	}
	if !found {
		uid = ""
	}

	release, err := g.locks.Acquire(ctx, key, g.config.LockWait)
	if err != nil {
		g.pad(ctx, start)
		if errors.Is(err, models.ErrLockTimeout) {
			g.audit.LogAuthAttempt(ctx, logger.AuditEvent{
				EventType:     logger.EventLoginLockTimeout,
				Username:      key,
				IPAddress:     sourceAddress,
				FailureReason: "lock_timeout",
			})
			return "", models.ErrInvalidCredentials
		}
		return "", err
	}
	defer release()
	defer g.pad(ctx, start)

	return g.attemptLocked(ctx, key, uid, found, password, sourceAddress, start)
}

func (g *LoginGuard) attemptLocked(ctx context.Context, key, uid string, found bool, password, source string, now time.Time) (string, error) {
	attempts, err := g.persistent.Increment(ctx, source)
	if err != nil {
		return "", err
	}

	limited, err := g.checkWindows(ctx, key, source, now)
	if err != nil {
		return "", err
	}
	if limited != nil {
		g.audit.LogAuthAttempt(ctx, logger.AuditEvent{
			EventType:     logger.EventLoginRateLimited,
			Username:      key,
			IPAddress:     source,
			FailureReason: fmt.Sprintf("%s_%ds", limited.Scope, int(limited.Window/time.Second)),
		})
		g.banIfAbusive(ctx, source, attempts)
		return "", limited
	}

	ok, err := g.verifier.VerifyPassword(ctx, uid, password)
	if err != nil {
		return "", fmt.Errorf("%w: verify password: %v", models.ErrServiceBusy, err)
	}

	if ok && found {
		if err := g.usernames.Clear(ctx, key); err != nil {
			return "", err
		}
		if err := g.sources.Clear(ctx, source); err != nil {
			return "", err
		}
		if err := g.persistent.Reset(ctx, source); err != nil {
			return "", err
		}
		g.audit.LogAuthAttempt(ctx, logger.AuditEvent{
			EventType: logger.EventLoginSuccess,
			UserID:    uid,
			Username:  key,
			IPAddress: source,
			Success:   true,
		})
		return uid, nil
	}

	if err := g.usernames.Record(ctx, key, now); err != nil {
		return "", err
	}
	if err := g.sources.Record(ctx, source, now); err != nil {
		return "", err
	}
	g.banIfAbusive(ctx, source, attempts)

	g.audit.LogAuthAttempt(ctx, logger.AuditEvent{
		EventType:     logger.EventLoginFailed,
		Username:      key,
		IPAddress:     source,
		FailureReason: "invalid_credentials",
	})
	return "", models.ErrInvalidCredentials
}

// checkWindows returns the first full window, username scope before source scope
func (g *LoginGuard) checkWindows(ctx context.Context, key, source string, now time.Time) (*models.RateLimitedError, error) {
	scopes := []struct {
		scope   models.RateLimitScope
		counter *throttle.SlidingWindowCounter
		key     string
	}{
		{models.ScopeUsername, g.usernames, key},
		{models.ScopeSource, g.sources, source},
	}

	for _, s := range scopes {
		for _, w := range g.config.Windows {
			count, err := s.counter.CountWithin(ctx, s.key, w.Window, now)
			if err != nil {
				return nil, err
			}
			if count >= w.Limit {
				return &models.RateLimitedError{Scope: s.scope, Window: w.Window}, nil
			}
		}
	}
	return nil, nil
}

// RecordAbuse counts an unauthenticated misuse (unknown reset email, bad reset code)
// against sourceAddress and bans it once above the threshold
func (g *LoginGuard) RecordAbuse(ctx context.Context, sourceAddress string) error {
	attempts, err := g.persistent.Increment(ctx, sourceAddress)
	if err != nil {
		return err
	}
	g.banIfAbusive(ctx, sourceAddress, attempts)
	return nil
}

// banIfAbusive hands the source to the ban sink when attempts is above the threshold.
// Sink failures are logged; the attempt outcome does not change.
func (g *LoginGuard) banIfAbusive(ctx context.Context, source string, attempts int) {
	if attempts <= g.config.BanThreshold {
		return
	}
	if err := g.bans.Ban(ctx, source); err != nil {
		g.logger.Error("failed to ban source address",
			slog.String("ip_address", source),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		return
	}
	g.audit.LogBan(ctx, source, attempts)
}

// ClearUsername forgets the failure window of one username
func (g *LoginGuard) ClearUsername(ctx context.Context, username string) error {
	return g.usernames.Clear(ctx, strings.ToLower(username))
}

// ClearAllSources forgets the failure windows of every source address
func (g *LoginGuard) ClearAllSources(ctx context.Context) error {
	return g.sources.ClearAll(ctx)
}

// ClearSource forgets the failure window and persistent count of one source address
func (g *LoginGuard) ClearSource(ctx context.Context, sourceAddress string) error {
	if err := g.sources.Clear(ctx, sourceAddress); err != nil {
		return err
	}
	return g.persistent.Reset(ctx, sourceAddress)
}

// Sweep evicts idle locks and windows with no retained failures
func (g *LoginGuard) Sweep(ctx context.Context) error {
	now := g.clock.Now()

	locks, err := g.locks.Sweep(ctx, now)
	if err != nil {
		return err
	}
	names, err := g.usernames.Sweep(ctx, now)
	if err != nil {
		return err
	}
	sources, err := g.sources.Sweep(ctx, now)
	if err != nil {
		return err
	}

	if locks+names+sources > 0 {
		g.logger.Debug("login state swept",
			slog.Int("locks", locks),
			slog.Int("username_windows", names),
			slog.Int("source_windows", sources))
	}
	return nil
}

// pad holds the caller until the minimum latency since start has passed. The wait ignores
// cancellation of ctx: a departed client must not shorten the time the username lock is held.
func (g *LoginGuard) pad(ctx context.Context, start time.Time) {
	if err := g.timing.WaitFrom(context.WithoutCancel(ctx), start); err != nil {
		g.logger.Debug("minimum latency wait interrupted", slog.Any("error", err))
	}
}
