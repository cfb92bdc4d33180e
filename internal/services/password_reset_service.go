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
	"github.com/ks-hl/snailpoints/internal/models"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
	pkglogger "github.com/ks-hl/snailpoints/pkg/logger"
)

// PasswordResetService runs the forgot-password and reset-password flows
type PasswordResetService struct {
	repo        AccountRepository
	guard       *LoginGuard
	challenges  *ChallengeStore
	issuer      *ChallengeIssuer
	timing      *auth.TimingDelay
	clock       clock.Clock
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewPasswordResetService creates a new PasswordResetService. timing pads ForgotPassword so
// known and unknown addresses take the same time.
func NewPasswordResetService(
	repo AccountRepository,
	guard *LoginGuard,
	challenges *ChallengeStore,
	issuer *ChallengeIssuer,
	timing *auth.TimingDelay,
	clk clock.Clock,
	bcryptCost int,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		repo:        repo,
		guard:       guard,
		challenges:  challenges,
		issuer:      issuer,
		timing:      timing,
		clock:       clk,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: pkglogger.NewAuditLogger(logger),
	}
}

// ForgotPassword mails a reset link when email belongs to an account. An unknown address
// counts as abuse against ipAddress. The caller sees the same result either way, so only
// infrastructure failures are returned.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email, ipAddress string) error {
	start := s.clock.Now()
	defer s.pad(ctx, start)

	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.issuer.StartChallenge(ctx, account.ID, email, models.PurposeReset); err != nil {
			// Not reported to the caller, that would reveal the address is registered
			s.logger.Warn("password reset challenge not sent",
				slog.String("user_id", account.ID),
				slog.Any("error", err))
		}
		return nil
	case errors.Is(err, models.ErrNotFound):
		s.logger.Info("password reset requested for unknown email",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", ipAddress))
		return s.guard.RecordAbuse(ctx, ipAddress)
	default:
		s.logger.Error("failed to look up account for password reset", slog.Any("error", err))
		return fmt.Errorf("%w: look up email: %v", models.ErrServiceBusy, err)
	}
}

// ResetPassword validates newPassword, consumes the reset code and stores the new password.
// A bad code counts as abuse against ipAddress and returns models.ErrChallengeExpiredOrInvalid.
// The password is checked first so a weak password does not burn the code.
func (s *PasswordResetService) ResetPassword(ctx context.Context, code, newPassword, ipAddress string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	uid, err := s.challenges.CompleteReset(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrChallengeExpiredOrInvalid) {
			s.auditLogger.LogChallenge(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventChallengeFailed,
				IPAddress:     ipAddress,
				FailureReason: failureReason(err),
				Metadata:      map[string]string{"purpose": models.PurposeReset.String()},
			})
			if abuseErr := s.guard.RecordAbuse(ctx, ipAddress); abuseErr != nil {
				s.logger.Warn("failed to record reset abuse", slog.Any("error", abuseErr))
			}
		}
		return err
	}

	hashedPassword, err := pkgauth.HashPasswordWithCost(newPassword, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.repo.UpdatePassword(ctx, uid, hashedPassword); err != nil {
		s.logger.Error("failed to store reset password", slog.String("user_id", uid), slog.Any("error", err))
		s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordReset, uid, ipAddress, false)
		return fmt.Errorf("%w: update password: %v", models.ErrServiceBusy, err)
	}

	s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordReset, uid, ipAddress, true)
	return nil
}

// pad holds ForgotPassword to its minimum latency even when the caller has gone away
func (s *PasswordResetService) pad(ctx context.Context, start time.Time) {
	if err := s.timing.WaitFrom(context.WithoutCancel(ctx), start); err != nil {
		s.logger.Debug("minimum latency wait interrupted", slog.Any("error", err))
	}
}
