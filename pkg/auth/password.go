package auth

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost          = 12
	MinPasswordLen      = 12
	MaxPasswordLen      = 64
	MinUpperCaseChars   = 1
	MinLowerCaseChars   = 1
	MinSpecialChars     = 1
	MinUsernameLen      = 4
	MaxUsernameLen      = 20
	dummyPasswordSource = "snailpoints-dummy-password"
)

var (
	allowedPasswordChars = regexp.MustCompile("^[a-zA-Z0-9_\\-\\s!@#$%^&*()+=`~'\";\\[\\]{},.<>/?\\\\|]+$")
	allowedUsernameChars = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// PasswordValidationError reports the first password rule that was violated.
// The message is safe to show to the account owner.
type PasswordValidationError struct {
	Reason string
}

func (e *PasswordValidationError) Error() string {
	if e.Reason == "" {
		return "invalid password"
	}
	return e.Reason
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password1234!":   true,
	"password12345!":  true,
	"qwertyuiop123!":  true,
	"letmein123456!":  true,
	"welcome123456!":  true,
	"administrator1!": true,
	"iloveyou12345!":  true,
	"trustno1trustno": true,
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

// HashPasswordWithCost hashes with an explicit bcrypt cost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CompareDummy burns one bcrypt comparison against a fixed hash so lookups for unknown
// accounts cost as much as real verifications
func CompareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte(dummyPasswordSource), BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePassword enforces the account password rules
func ValidatePassword(password string) error {
	if password == "" {
		return &PasswordValidationError{Reason: "No password provided"}
	}
	if len(password) < MinPasswordLen {
		return &PasswordValidationError{Reason: fmt.Sprintf("Password must be at least %d characters", MinPasswordLen)}
	}
	if len(password) > MaxPasswordLen {
		return &PasswordValidationError{Reason: fmt.Sprintf("Password must be no more than %d characters", MaxPasswordLen)}
	}
	if !allowedPasswordChars.MatchString(password) {
		return &PasswordValidationError{Reason: "Your password contains invalid characters"}
	}

	// Anything that is not an ASCII letter counts as special
	upper, lower, special := 0, 0, 0
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= 'a' && r <= 'z':
			lower++
		default:
			special++
		}
	}

	if upper < MinUpperCaseChars {
		return &PasswordValidationError{Reason: "Your password must have at least 1 capital letter."}
	}
	if lower < MinLowerCaseChars {
		return &PasswordValidationError{Reason: "Your password must have at least 1 lower case letter."}
	}
	if special < MinSpecialChars {
		return &PasswordValidationError{Reason: "Your password must have at least 1 special letter."}
	}

	if commonPasswords[strings.ToLower(password)] {
		return &PasswordValidationError{Reason: "Your password is too common, please choose a more unique password"}
	}

	return nil
}

// ValidateUsername enforces the account username rules
func ValidateUsername(username string) error {
	switch {
	case len(username) < MinUsernameLen:
		return fmt.Errorf("Username must be at least %d characters", MinUsernameLen)
	case len(username) > MaxUsernameLen:
		return fmt.Errorf("Username must be no more than %d characters", MaxUsernameLen)
	case !allowedUsernameChars.MatchString(username):
		return fmt.Errorf("Username must be alphanumeric or underscores")
	}
	return nil
}
