package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued at login.
type Claims struct {
	jwt.RegisteredClaims

	FirmID     string `json:"firm_id,omitempty"`
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
}
