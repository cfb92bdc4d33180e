package services_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/services"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
)

// accountTable is an in-memory account store behind a MockAccountRepository
type accountTable struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newAccountTable() *accountTable {
	return &accountTable{accounts: make(map[string]*models.Account)}
}

func (a *accountTable) add(t *testing.T, username, email, password string, admin bool) *models.Account {
	t.Helper()
	hash, err := pkgauth.HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(t, err)

	a.mu.Lock()
	defer a.mu.Unlock()
	account := &models.Account{
		ID:           "uid-" + strings.ToLower(username),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Admin:        admin,
	}
	a.accounts[account.ID] = account
	return account
}

func (a *accountTable) get(id string) *models.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[id]; ok {
		copied := *acc
		return &copied
	}
	return nil
}

func (a *accountTable) find(match func(*models.Account) bool) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acc := range a.accounts {
		if match(acc) {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (a *accountTable) repository() *services.MockAccountRepository {
	return &services.MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			if acc := a.get(id); acc != nil {
				return acc, nil
			}
			return nil, models.ErrNotFound
		},
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.Account, error) {
			return a.find(func(acc *models.Account) bool { return strings.EqualFold(acc.Username, username) })
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			return a.find(func(acc *models.Account) bool { return strings.EqualFold(acc.Email, email) })
		},
		CreateFunc: func(ctx context.Context, account *models.Account) (*models.Account, error) {
			if _, err := a.find(func(acc *models.Account) bool { return strings.EqualFold(acc.Username, account.Username) }); err == nil {
				return nil, models.ErrConflict
			}
			a.mu.Lock()
			defer a.mu.Unlock()
			created := *account
			created.ID = "uid-" + strings.ToLower(account.Username)
			a.accounts[created.ID] = &created
			copied := created
			return &copied, nil
		},
		UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			acc, ok := a.accounts[id]
			if !ok {
				return models.ErrNotFound
			}
			acc.PasswordHash = passwordHash
			return nil
		},
		MarkValidatedFunc: func(ctx context.Context, id string) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			acc, ok := a.accounts[id]
			if !ok {
				return models.ErrNotFound
			}
			acc.Validated = true
			return nil
		},
	}
}

// resolver and verifier backed by the table, the way the postgres repository behaves
func (a *accountTable) resolver() *services.MockIdentityResolver {
	return &services.MockIdentityResolver{
		ResolveUsernameFunc: func(ctx context.Context, username string) (string, bool, error) {
			acc, err := a.find(func(acc *models.Account) bool { return strings.EqualFold(acc.Username, username) })
			if err != nil {
				return "", false, nil
			}
			return acc.ID, true, nil
		},
	}
}

func (a *accountTable) verifier() *services.MockCredentialVerifier {
	return &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			acc := a.get(uid)
			if acc == nil {
				pkgauth.CompareDummy(password)
				return false, nil
			}
			return pkgauth.ComparePassword(acc.PasswordHash, password) == nil, nil
		},
	}
}

// world wires every service against one account table, manual clock and mail capture
type world struct {
	accounts *accountTable
	repo     *services.MockAccountRepository
	clock    *clock.Manual
	bans     *services.MockBanSink
	mail     *services.MockMailTransport
	guard    *services.LoginGuard
	store    *services.ChallengeStore
	issuer   *services.ChallengeIssuer
	tokens   *auth.TokenManager
	timing   *auth.TimingDelay

	auth   *services.AuthService
	verify *services.EmailVerificationService
	reset  *services.PasswordResetService
	admin  *services.AdminService
	read   *services.AccountService
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		accounts: newAccountTable(),
		clock:    clock.NewManual(epoch),
		bans:     &services.MockBanSink{},
		mail:     &services.MockMailTransport{},
		tokens:   auth.NewTokenManager("test-secret-key-that-is-at-least-32-chars", 15*time.Minute),
	}
	w.repo = w.accounts.repository()
	w.timing = auth.NewTimingDelay(auth.TimingConfig{BaseDelay: time.Second}, w.clock)

	log := discardLogger()
	w.guard = services.NewLoginGuard(w.accounts.resolver(), w.accounts.verifier(), w.bans, w.timing, w.clock,
		services.DefaultLoginGuardConfig(), log)
	w.store = services.NewChallengeStore(services.ChallengeStoreConfig{}, w.clock, log)
	gate := services.NewResendGate(5*time.Minute, kvstore.NewMemoryStore[time.Time](kvstore.MemoryConfig{}), w.clock)

	var err error
	w.issuer, err = services.NewChallengeIssuer(gate, w.store, w.mail, services.ChallengeIssuerConfig{
		ProductName:  "SnailPoints",
		ResetURLBase: "https://snailpoints.example/resetpassword",
	}, log)
	require.NoError(t, err)

	w.auth = services.NewAuthService(w.repo, w.guard, w.issuer, w.tokens, bcrypt.MinCost, log)
	w.verify = services.NewEmailVerificationService(w.repo, w.store, w.issuer, log)
	w.reset = services.NewPasswordResetService(w.repo, w.guard, w.store, w.issuer, w.timing, w.clock, bcrypt.MinCost, log)
	w.admin = services.NewAdminService(w.repo, w.guard, w.bans, bcrypt.MinCost, log)
	w.read = services.NewAccountService(w.repo, log)
	return w
}
