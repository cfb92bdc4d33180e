package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/services"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// AuthServiceInterface defines the interface for login and signup
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error)
	Register(ctx context.Context, input services.RegisterInput, ipAddress string) (*services.AuthResponse, error)
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, userID, code string) error
	ResendVerification(ctx context.Context, userID string) error
}

// PasswordResetServiceInterface defines the interface for the password reset flow
type PasswordResetServiceInterface interface {
	ForgotPassword(ctx context.Context, email, ipAddress string) error
	ResetPassword(ctx context.Context, code, newPassword, ipAddress string) error
}

// AccountServiceInterface defines read access to the signed-in account
type AccountServiceInterface interface {
	GetAccount(ctx context.Context, id string) (*services.AccountResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	verification EmailVerificationServiceInterface
	reset        PasswordResetServiceInterface
	accounts     AccountServiceInterface
	ipConfig     *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	verification EmailVerificationServiceInterface,
	reset PasswordResetServiceInterface,
	accounts AccountServiceInterface,
	ipConfig *pkghttp.IPConfig,
) *AuthHandler {
	return &AuthHandler{
		service:      service,
		verification: verification,
		reset:        reset,
		accounts:     accounts,
		ipConfig:     ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Code string `json:"code" validate:"required,numeric,min=6,max=12"`
}

// ForgotPasswordRequest represents the request body for requesting a reset link
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Code        string `json:"code" validate:"required,alphanum,max=64"`
	NewPassword string `json:"new_password" validate:"required"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	authResp, err := h.service.Login(r.Context(), req.Username, req.Password, ipAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResp)
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	authResp, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:    strings.TrimSpace(req.Email),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	}, ipAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResp)
}

// VerifyEmail handles POST /auth/verify-email for a signed-in, unvalidated account
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.verification.VerifyEmail(r.Context(), claims.UserID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeAttemptsExceeded):
			pkghttp.WriteUnprocessable(w, "Too many incorrect codes. Please request a new code.")
		case errors.Is(err, models.ErrChallengeExpiredOrInvalid):
			pkghttp.WriteUnprocessable(w, "Invalid or expired code")
		default:
			writeServiceError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Email verified"})
}

// ResendCode handles POST /auth/resend-code for a signed-in, unvalidated account
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.verification.ResendVerification(r.Context(), claims.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "Verification code sent"})
}

// ForgotPassword handles POST /auth/forgot-password. The response does not depend on
// whether the address is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.reset.ForgotPassword(r.Context(), req.Email, ipAddress); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account uses this address, a password reset link has been sent.",
	})
}

// ResetPassword handles POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	err := h.reset.ResetPassword(r.Context(), req.Code, req.NewPassword, ipAddress)
	if err != nil {
		if errors.Is(err, models.ErrChallengeExpiredOrInvalid) {
			pkghttp.WriteForbidden(w, "Invalid or expired code")
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password changed"})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// decodeAndValidate reads a JSON body into dst and runs the struct validators.
// It writes a 400 and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
