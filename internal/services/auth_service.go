package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/models"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
	pkglogger "github.com/ks-hl/snailpoints/pkg/logger"
)

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken string           `json:"access_token"`
	Account     *AccountResponse `json:"account"`
}

// RegisterInput carries a signup request
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// AuthService handles login and signup
type AuthService struct {
	repo        AccountRepository
	guard       *LoginGuard
	issuer      *ChallengeIssuer
	tm          *auth.TokenManager
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo AccountRepository,
	guard *LoginGuard,
	issuer *ChallengeIssuer,
	tm *auth.TokenManager,
	bcryptCost int,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		repo:        repo,
		guard:       guard,
		issuer:      issuer,
		tm:          tm,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: pkglogger.NewAuditLogger(logger),
	}
}

// Login runs the attempt through the LoginGuard and issues a session token on success.
// LoginGuard errors are returned unchanged.
func (s *AuthService) Login(ctx context.Context, username, password, ipAddress string) (*AuthResponse, error) {
	uid, err := s.guard.Attempt(ctx, strings.TrimSpace(username), password, ipAddress)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		s.logger.Error("failed to load account after login", slog.String("user_id", uid), slog.Any("error", err))
		return nil, fmt.Errorf("%w: load account: %v", models.ErrServiceBusy, err)
	}

	return s.issueSession(account)
}

// Register creates a new account, mails it a verification code and signs it in.
// Returns *pkgauth.PasswordValidationError for a weak password, models.ErrInvalidRecipient
// for an unusable or taken email and models.ErrConflict for a taken username.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, ipAddress string) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)

	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	if err := pkgauth.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrBadRequest, err.Error())
	}

	// Same answer for a taken email as for a malformed one
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: email already in use")
		return nil, models.ErrInvalidRecipient
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if email is in use", slog.Any("error", err))
		return nil, fmt.Errorf("%w: check email: %v", models.ErrServiceBusy, err)
	}

	hashedPassword, err := pkgauth.HashPasswordWithCost(input.Password, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.repo.Create(ctx, &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: username already in use")
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, fmt.Errorf("%w: create account: %v", models.ErrServiceBusy, err)
	}

	s.logger.Info("account created", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventAccountCreated, created.ID, ipAddress, nil)

	// The account exists either way; a failed send can be retried through resend-code
	if err := s.issuer.StartChallenge(ctx, created.ID, email, models.PurposeVerify); err != nil {
		s.logger.Warn("failed to send verification code after signup",
			slog.String("user_id", created.ID),
			slog.Any("error", err))
	}

	return s.issueSession(created)
}

func (s *AuthService) issueSession(account *models.Account) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(account)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken: accessToken,
		Account:     accountToResponse(account),
	}, nil
}
