package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess = "access"
)

// TokenClaims are the session claims issued after a successful login
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Validated bool   `json:"validated"`
	jwt.RegisteredClaims
}
