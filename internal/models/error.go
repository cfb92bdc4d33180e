package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login outcomes. Lock timeouts and unknown usernames surface as ErrInvalidCredentials.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRateLimitExceeded  = errors.New("too many attempts")
	ErrLockTimeout        = errors.New("identity lock wait timed out")

	// ErrServiceBusy is an infrastructure condition (internal contention or a failing
	// collaborator). It is retryable and never an authentication decision.
	ErrServiceBusy = errors.New("service busy")

	// Challenge errors
	ErrChallengeExpiredOrInvalid = errors.New("challenge expired or invalid")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrResendCooldown            = errors.New("challenge resend cooldown active")

	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// RateLimitScope names the key a sliding window was tracked under
type RateLimitScope string

const (
	ScopeUsername RateLimitScope = "username"
	ScopeSource   RateLimitScope = "source"
)

// RateLimitedError reports which window rejected a login attempt.
// Scope and Window are for logs and metrics; only the coarse window length reaches the requester.
type RateLimitedError struct {
	Scope  RateLimitScope
	Window time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s window %s", e.Scope, e.Window)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// RetryAfterSeconds is the coarse wait advertised to the requester
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(e.Window / time.Second)
}

// ResendCooldownError is returned when a challenge was issued to the same recipient too recently
type ResendCooldownError struct {
	SecondsRemaining int
}

func (e *ResendCooldownError) Error() string {
	return fmt.Sprintf("can't send another email for %d seconds", e.SecondsRemaining)
}

func (e *ResendCooldownError) Is(target error) bool {
	return target == ErrResendCooldown
}
