package services

import (
	"context"
	"sync"

	"github.com/ks-hl/snailpoints/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.Account, error)
	GetByUsernameFunc  func(ctx context.Context, username string) (*models.Account, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc         func(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
	MarkValidatedFunc  func(ctx context.Context, id string) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountRepository) MarkValidated(ctx context.Context, id string) error {
	if m.MarkValidatedFunc != nil {
		return m.MarkValidatedFunc(ctx, id)
	}
	return nil
}

// MockIdentityResolver implements IdentityResolver for testing
type MockIdentityResolver struct {
	ResolveUsernameFunc func(ctx context.Context, username string) (string, bool, error)
}

func (m *MockIdentityResolver) ResolveUsername(ctx context.Context, username string) (string, bool, error) {
	if m.ResolveUsernameFunc != nil {
		return m.ResolveUsernameFunc(ctx, username)
	}
	return "", false, nil
}

// MockCredentialVerifier implements CredentialVerifier for testing and counts calls
type MockCredentialVerifier struct {
	VerifyPasswordFunc func(ctx context.Context, uid, password string) (bool, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockCredentialVerifier) VerifyPassword(ctx context.Context, uid, password string) (bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, uid)
	m.mu.Unlock()

	if m.VerifyPasswordFunc != nil {
		return m.VerifyPasswordFunc(ctx, uid, password)
	}
	return false, nil
}

// Calls returns the uids VerifyPassword was called with, in order
func (m *MockCredentialVerifier) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockBanSink implements BanSink and BanRemover for testing and records banned addresses
type MockBanSink struct {
	BanFunc   func(ctx context.Context, sourceAddress string) error
	UnbanFunc func(ctx context.Context, sourceAddress string) error

	mu     sync.Mutex
	banned []string
}

func (m *MockBanSink) Ban(ctx context.Context, sourceAddress string) error {
	m.mu.Lock()
	m.banned = append(m.banned, sourceAddress)
	m.mu.Unlock()

	if m.BanFunc != nil {
		return m.BanFunc(ctx, sourceAddress)
	}
	return nil
}

// Unban removes every recorded ban of sourceAddress
func (m *MockBanSink) Unban(ctx context.Context, sourceAddress string) error {
	if m.UnbanFunc != nil {
		if err := m.UnbanFunc(ctx, sourceAddress); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.banned[:0]
	for _, addr := range m.banned {
		if addr != sourceAddress {
			kept = append(kept, addr)
		}
	}
	m.banned = kept
	return nil
}

// Banned returns every address passed to Ban, in order
func (m *MockBanSink) Banned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.banned...)
}

// SentMail is one message captured by MockMailTransport
type SentMail struct {
	Recipient string
	Subject   string
	HTMLBody  string
}

// MockMailTransport implements MailTransport for testing and captures sent messages
type MockMailTransport struct {
	SendFunc func(ctx context.Context, recipient, subject, htmlBody string) error

	mu   sync.Mutex
	sent []SentMail
}

func (m *MockMailTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, recipient, subject, htmlBody); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sent = append(m.sent, SentMail{Recipient: recipient, Subject: subject, HTMLBody: htmlBody})
	m.mu.Unlock()
	return nil
}

// Sent returns every delivered message, in order
func (m *MockMailTransport) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}
