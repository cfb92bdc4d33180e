package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ks-hl/snailpoints/internal/models"
	pkglogger "github.com/ks-hl/snailpoints/pkg/logger"
)

// EmailVerificationService confirms account email addresses with short numeric codes
type EmailVerificationService struct {
	repo        AccountRepository
	challenges  *ChallengeStore
	issuer      *ChallengeIssuer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	repo AccountRepository,
	challenges *ChallengeStore,
	issuer *ChallengeIssuer,
	logger *slog.Logger,
) *EmailVerificationService {
	return &EmailVerificationService{
		repo:        repo,
		challenges:  challenges,
		issuer:      issuer,
		logger:      logger,
		auditLogger: pkglogger.NewAuditLogger(logger),
	}
}

// VerifyEmail completes the outstanding verification challenge of userID and marks the
// account validated. Challenge errors are returned unchanged.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, userID, code string) error {
	if err := s.challenges.CompleteVerification(ctx, userID, code); err != nil {
		if errors.Is(err, models.ErrChallengeExpiredOrInvalid) || errors.Is(err, models.ErrChallengeAttemptsExceeded) {
			s.auditLogger.LogChallenge(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventChallengeFailed,
				UserID:        userID,
				FailureReason: failureReason(err),
				Metadata:      map[string]string{"purpose": models.PurposeVerify.String()},
			})
		}
		return err
	}

	if err := s.repo.MarkValidated(ctx, userID); err != nil {
		s.logger.Error("failed to mark account validated", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("%w: mark validated: %v", models.ErrServiceBusy, err)
	}

	s.auditLogger.LogChallenge(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventChallengeCompleted,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"purpose": models.PurposeVerify.String()},
	})
	s.logger.Info("email verified", slog.String("user_id", userID))
	return nil
}

// ResendVerification issues a fresh verification code to the account's email address
func (s *EmailVerificationService) ResendVerification(ctx context.Context, userID string) error {
	account, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load account for resend", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("%w: load account: %v", models.ErrServiceBusy, err)
	}

	if account.Validated {
		return fmt.Errorf("%w: email already verified", models.ErrBadRequest)
	}

	return s.issuer.StartChallenge(ctx, account.ID, account.Email, models.PurposeVerify)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrChallengeAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, models.ErrChallengeExpiredOrInvalid):
		return "expired_or_invalid"
	default:
		return "error"
	}
}
