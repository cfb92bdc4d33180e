package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		shouldFail    bool
		errorContains string
	}{
		{
			name:       "valid strong password",
			password:   "SecureP@ss1234",
			shouldFail: false,
		},
		{
			name:          "empty",
			password:      "",
			shouldFail:    true,
			errorContains: "No password provided",
		},
		{
			name:          "too short",
			password:      "Pass@1word",
			shouldFail:    true,
			errorContains: "at least 12 characters",
		},
		{
			name:          "too long",
			password:      "Aa1!" + strings.Repeat("x", 61),
			shouldFail:    true,
			errorContains: "no more than 64 characters",
		},
		{
			name:          "invalid characters",
			password:      "Sécurepass123!",
			shouldFail:    true,
			errorContains: "invalid characters",
		},
		{
			name:          "missing uppercase",
			password:      "securepass@123",
			shouldFail:    true,
			errorContains: "capital letter",
		},
		{
			name:          "missing lowercase",
			password:      "SECUREPASS@123",
			shouldFail:    true,
			errorContains: "lower case letter",
		},
		{
			name:          "missing special character",
			password:      "SecurePassword",
			shouldFail:    true,
			errorContains: "special letter",
		},
		{
			name:       "digit counts as special",
			password:   "SecurePassword1",
			shouldFail: false,
		},
		{
			name:       "space counts as special",
			password:   "Correct horse battery",
			shouldFail: false,
		},
		{
			name:          "common password rejected",
			password:      "Password1234!",
			shouldFail:    true,
			errorContains: "too common",
		},
		{
			name:       "exactly 64 characters",
			password:   "Aa1!" + strings.Repeat("x", 60),
			shouldFail: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if tt.shouldFail {
				require.Error(t, err)
				var pve *PasswordValidationError
				assert.ErrorAs(t, err, &pve)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"alice", true},
		{"bob_42", true},
		{"abc", false},
		{"abcd", true},
		{strings.Repeat("a", 20), true},
		{strings.Repeat("a", 21), false},
		{"bad-name", false},
		{"white space", false},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	password := "SecureP@ss1234"

	hash, err := HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)

	assert.NoError(t, ComparePassword(hash, password))
	assert.Error(t, ComparePassword(hash, "WrongPassword123!"))
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPasswordWithCost("", bcrypt.MinCost)
	assert.Error(t, err)
}
