package models

import "time"

// ChallengePurpose selects which kind of code a challenge carries
type ChallengePurpose int

const (
	// PurposeVerify issues a short numeric code bound to an account id, attempt limited
	PurposeVerify ChallengePurpose = iota
	// PurposeReset issues a long single-use code that is itself the lookup key
	PurposeReset
)

func (p ChallengePurpose) String() string {
	switch p {
	case PurposeVerify:
		return "verify"
	case PurposeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// VerificationChallenge is the single outstanding email verification code for an account
type VerificationChallenge struct {
	UID       string
	CodeHash  [32]byte
	ExpiresAt time.Time
}

// IsExpired checks if the challenge has expired at now
func (c *VerificationChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ResetChallenge is a password reset grant; the code is both lookup key and bearer token
type ResetChallenge struct {
	UID       string
	ExpiresAt time.Time
}

// IsExpired checks if the challenge has expired at now
func (c *ResetChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
