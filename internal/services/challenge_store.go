package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	"github.com/ks-hl/snailpoints/internal/models"
)

const lazyPruneInterval = time.Second

// ChallengeStoreConfig holds challenge lifetimes and limits
type ChallengeStoreConfig struct {
	TTL         time.Duration // lifetime of every issued code
	MaxAttempts int           // completion calls honoured per verification challenge, the next one fails
	Store       kvstore.MemoryConfig
}

// DefaultChallengeStoreConfig returns the production settings
func DefaultChallengeStoreConfig() ChallengeStoreConfig {
	return ChallengeStoreConfig{
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
	}
}

// verificationRecord keeps the attempt counter next to the challenge so the
// increment and the threshold check happen in one atomic step
type verificationRecord struct {
	challenge *models.VerificationChallenge
	attempts  int
}

// ChallengeStore holds outstanding verification and reset codes. Codes are stored as
// SHA-256 digests; the plain code only exists in the outgoing message.
type ChallengeStore struct {
	verifications kvstore.Store[verificationRecord]
	resets        kvstore.Store[models.ResetChallenge]
	config        ChallengeStoreConfig
	clock         clock.Clock
	lastPrune     atomic.Int64
	logger        *slog.Logger
}

// NewChallengeStore creates an empty in-memory ChallengeStore. Zero config fields take defaults.
func NewChallengeStore(config ChallengeStoreConfig, clk clock.Clock, logger *slog.Logger) *ChallengeStore {
	defaults := DefaultChallengeStoreConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &ChallengeStore{
		verifications: kvstore.NewMemoryStore[verificationRecord](config.Store),
		resets:        kvstore.NewMemoryStore[models.ResetChallenge](config.Store),
		config:        config,
		clock:         clk,
		logger:        logger,
	}
}

// IssueVerification replaces the outstanding verification code for uid and resets its attempts
func (s *ChallengeStore) IssueVerification(ctx context.Context, uid, code string) error {
	challenge := &models.VerificationChallenge{
		UID:       uid,
		CodeHash:  sha256.Sum256([]byte(code)),
		ExpiresAt: s.clock.Now().Add(s.config.TTL),
	}

	_, err := s.verifications.Compute(ctx, uid, func(verificationRecord, bool) (verificationRecord, bool) {
		return verificationRecord{challenge: challenge}, true
	})
	return err
}

// IssueReset stores a reset grant for uid under code. A colliding code overwrites the older grant.
func (s *ChallengeStore) IssueReset(ctx context.Context, uid, code string) error {
	grant := models.ResetChallenge{
		UID:       uid,
		ExpiresAt: s.clock.Now().Add(s.config.TTL),
	}

	_, err := s.resets.Compute(ctx, resetKey(code), func(models.ResetChallenge, bool) (models.ResetChallenge, bool) {
		return grant, true
	})
	return err
}

// CompleteVerification consumes one attempt against the verification code for uid.
// Every call counts, including calls with the right code: once the count exceeds
// MaxAttempts the challenge is deleted and ErrChallengeAttemptsExceeded is returned.
// An absent, expired or mismatched code returns ErrChallengeExpiredOrInvalid and keeps
// the challenge. A match deletes the challenge and returns nil.
func (s *ChallengeStore) CompleteVerification(ctx context.Context, uid, code string) error {
	now := s.clock.Now()
	s.maybePrune(ctx, now)

	supplied := sha256.Sum256([]byte(code))
	var result error

	_, err := s.verifications.Compute(ctx, uid, func(rec verificationRecord, _ bool) (verificationRecord, bool) {
		if rec.challenge != nil && rec.challenge.IsExpired(now) {
			rec.challenge = nil
		}

		rec.attempts++
		if rec.attempts > s.config.MaxAttempts {
			result = models.ErrChallengeAttemptsExceeded
			return verificationRecord{}, false
		}

		if rec.challenge == nil {
			result = models.ErrChallengeExpiredOrInvalid
			return verificationRecord{}, false
		}

		if subtle.ConstantTimeCompare(rec.challenge.CodeHash[:], supplied[:]) != 1 {
			result = models.ErrChallengeExpiredOrInvalid
			return rec, true
		}

		result = nil
		return verificationRecord{}, false
	})
	if err != nil {
		return err
	}
	return result
}

// CompleteReset atomically consumes a reset code and returns the uid it was issued for
func (s *ChallengeStore) CompleteReset(ctx context.Context, code string) (string, error) {
	now := s.clock.Now()
	s.maybePrune(ctx, now)

	var uid string
	_, err := s.resets.Compute(ctx, resetKey(code), func(grant models.ResetChallenge, exists bool) (models.ResetChallenge, bool) {
		if exists && !grant.IsExpired(now) {
			uid = grant.UID
		}
		return models.ResetChallenge{}, false
	})
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", models.ErrChallengeExpiredOrInvalid
	}
	return uid, nil
}

// Prune removes every expired challenge
func (s *ChallengeStore) Prune(ctx context.Context) error {
	now := s.clock.Now()
	s.lastPrune.Store(now.UnixNano())

	verifications, err := s.verifications.DeleteIf(ctx, func(_ string, rec verificationRecord) bool {
		return rec.challenge == nil || rec.challenge.IsExpired(now)
	})
	if err != nil {
		return err
	}

	resets, err := s.resets.DeleteIf(ctx, func(_ string, grant models.ResetChallenge) bool {
		return grant.IsExpired(now)
	})
	if err != nil {
		return err
	}

	if verifications+resets > 0 {
		s.logger.Debug("expired challenges pruned",
			slog.Int("verifications", verifications),
			slog.Int("resets", resets))
	}
	return nil
}

// maybePrune runs a store-wide prune at most once per lazyPruneInterval
func (s *ChallengeStore) maybePrune(ctx context.Context, now time.Time) {
	last := s.lastPrune.Load()
	if now.UnixNano()-last < int64(lazyPruneInterval) {
		return
	}
	if !s.lastPrune.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	if err := s.Prune(ctx); err != nil {
		s.logger.Warn("lazy challenge prune failed", slog.Any("error", err))
	}
}

func resetKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
