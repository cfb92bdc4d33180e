package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ks-hl/snailpoints/internal/models"
)

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// Create stores a new account. Returns models.ErrConflict when the username is taken.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkValidated(ctx context.Context, id string) error
}

// AccountResponse represents an account in the HTTP response
type AccountResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Validated bool   `json:"validated"`
	Admin     bool   `json:"admin"`
}

// AccountService serves read access to the signed-in account
type AccountService struct {
	repo   AccountRepository
	logger *slog.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(repo AccountRepository, logger *slog.Logger) *AccountService {
	return &AccountService{
		repo:   repo,
		logger: logger,
	}
}

// GetAccount retrieves an account by ID
func (s *AccountService) GetAccount(ctx context.Context, id string) (*AccountResponse, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("account not found", slog.String("user_id", id))
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account", slog.String("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("%w: get account: %v", models.ErrServiceBusy, err)
	}

	return accountToResponse(account), nil
}

func accountToResponse(account *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:        account.ID,
		Username:  account.Username,
		Validated: account.Validated,
		Admin:     account.Admin,
	}
}
