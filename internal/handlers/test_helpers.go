package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/services"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, username string) *http.Request {
	claims := &models.TokenClaims{
		UserID:   userID,
		Username: username,
		Type:     models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc    func(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error)
	RegisterFunc func(ctx context.Context, input services.RegisterInput, ipAddress string) (*services.AuthResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, username, password, ipAddress)
}

func (m *MockAuthService) Register(ctx context.Context, input services.RegisterInput, ipAddress string) (*services.AuthResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, input, ipAddress)
}

// MockEmailVerificationService implements EmailVerificationServiceInterface for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, userID, code string) error
	ResendVerificationFunc func(ctx context.Context, userID string) error
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, userID, code string) error {
	if m.VerifyEmailFunc == nil {
		return models.ErrChallengeExpiredOrInvalid
	}
	return m.VerifyEmailFunc(ctx, userID, code)
}

func (m *MockEmailVerificationService) ResendVerification(ctx context.Context, userID string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, userID)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	ForgotPasswordFunc func(ctx context.Context, email, ipAddress string) error
	ResetPasswordFunc  func(ctx context.Context, code, newPassword, ipAddress string) error
}

func (m *MockPasswordResetService) ForgotPassword(ctx context.Context, email, ipAddress string) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email, ipAddress)
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, code, newPassword, ipAddress string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrChallengeExpiredOrInvalid
	}
	return m.ResetPasswordFunc(ctx, code, newPassword, ipAddress)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetAccountFunc func(ctx context.Context, id string) (*services.AccountResponse, error)
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*services.AccountResponse, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAccountFunc(ctx, id)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	SetPasswordFunc  func(ctx context.Context, adminID, username, newPassword string) error
	UnbanAddressFunc func(ctx context.Context, adminID, address string) error
}

func (m *MockAdminService) SetPassword(ctx context.Context, adminID, username, newPassword string) error {
	if m.SetPasswordFunc == nil {
		return nil
	}
	return m.SetPasswordFunc(ctx, adminID, username, newPassword)
}

func (m *MockAdminService) UnbanAddress(ctx context.Context, adminID, address string) error {
	if m.UnbanAddressFunc == nil {
		return nil
	}
	return m.UnbanAddressFunc(ctx, adminID, address)
}
