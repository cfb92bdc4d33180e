package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ks-hl/snailpoints/internal/models"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// writeServiceError maps service errors that share one response across endpoints.
// Endpoint specific errors (challenge failures) are handled by the caller first.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		limited  *models.RateLimitedError
		cooldown *models.ResendCooldownError
		pwErr    *pkgauth.PasswordValidationError
	)

	switch {
	case errors.As(err, &limited):
		seconds := limited.RetryAfterSeconds()
		pkghttp.WriteTooManyRequests(w, fmt.Sprintf("Too many attempts. Please try again in %d seconds.", seconds), seconds)
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.", 0)
	case errors.As(err, &cooldown):
		pkghttp.WriteTooManyRequests(w, fmt.Sprintf("Can't send another email for %d seconds.", cooldown.SecondsRemaining), cooldown.SecondsRemaining)
	case errors.As(err, &pwErr):
		pkghttp.WriteUnprocessable(w, pwErr.Error())
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid username or password")
	case errors.Is(err, models.ErrServiceBusy):
		pkghttp.WriteServiceUnavailable(w, "Service busy. Please try again.")
	case errors.Is(err, models.ErrInvalidRecipient):
		pkghttp.WriteBadRequest(w, "Invalid email address")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Username already in use")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, userMessage(err, models.ErrBadRequest, "Bad request"))
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, userMessage(err, models.ErrForbidden, "Forbidden"))
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// userMessage returns the detail wrapped around sentinel, capitalized for display
func userMessage(err, sentinel error, fallback string) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" || msg == err.Error() {
		return fallback
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
