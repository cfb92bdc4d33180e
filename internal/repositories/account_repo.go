package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ks-hl/snailpoints/internal/database"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/pkg/auth"
)

const accountColumns = `id, username, email, password_hash, validated, admin, created_at, updated_at`

// AccountRepository stores accounts in postgres. It also serves as the identity resolver and
// credential verifier of the login guard, and answers the admin and validation checks of
// the auth middleware.
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning account rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	err := scanner.Scan(
		&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&account.Validated, &account.Admin,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(username) = LOWER($1)`
	return scanAccountRow(r.pool.QueryRow(ctx, query, username))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1) LIMIT 1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, email))
}

// Create inserts a new account. A taken username (case-insensitive) returns models.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, username, email, password_hash, validated, admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Username, strings.ToLower(account.Email), account.PasswordHash,
		account.Validated, account.Admin, account.CreatedAt, account.UpdatedAt,
	))
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *AccountRepository) MarkValidated(ctx context.Context, id string) error {
	query := `UPDATE accounts SET validated = TRUE, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ResolveUsername maps a username to its account id, ignoring case
func (r *AccountRepository) ResolveUsername(ctx context.Context, username string) (string, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM accounts WHERE LOWER(username) = LOWER($1)`, username).Scan(&id)
	if err != nil {
		err = database.MapPostgresError(err)
		if errors.Is(err, models.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve username: %w", err)
	}
	return id, true, nil
}

// VerifyPassword compares password with the stored hash of uid. An empty or unknown uid
// runs a comparison against a dummy hash and returns false.
func (r *AccountRepository) VerifyPassword(ctx context.Context, uid, password string) (bool, error) {
	if uid == "" {
		auth.CompareDummy(password)
		return false, nil
	}

	var hash string
	err := r.pool.QueryRow(ctx, `SELECT password_hash FROM accounts WHERE id = $1`, uid).Scan(&hash)
	if err != nil {
		err = database.MapPostgresError(err)
		if errors.Is(err, models.ErrNotFound) {
			auth.CompareDummy(password)
			return false, nil
		}
		return false, fmt.Errorf("failed to load password hash: %w", err)
	}

	return auth.ComparePassword(hash, password) == nil, nil
}

func (r *AccountRepository) IsAdmin(ctx context.Context, uid string) (bool, error) {
	account, err := r.GetByID(ctx, uid)
	if err != nil {
		return false, err
	}
	return account.Admin, nil
}

func (r *AccountRepository) IsValidated(ctx context.Context, uid string) (bool, error) {
	account, err := r.GetByID(ctx, uid)
	if err != nil {
		return false, err
	}
	return account.Validated, nil
}
