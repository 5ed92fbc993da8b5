package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenRequest describes the token to issue.
type TokenRequest struct {
	Principal  *Principal
	TTL        time.Duration
	RememberMe bool
}

// IssueToken creates an HS256 signed JWT for the principal.
func IssueToken(secret []byte, issuer string, req TokenRequest, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret not provided")
	}
	if req.Principal == nil {
		return "", errors.New("principal is required")
	}

	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   req.Principal.UserID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
		Role:       string(req.Principal.Role),
		Email:      req.Principal.Email,
		RememberMe: req.RememberMe,
	}
	if req.Principal.FirmID != uuid.Nil {
		claims.FirmID = req.Principal.FirmID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
