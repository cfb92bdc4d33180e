package models

import (
	"time"
)

// Account is a stored user account
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Validated    bool // email address confirmed through a verification challenge
	Admin        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
