package models

import (
	"time"

	"github.com/google/uuid"
)

// Authentication methods recorded with an AuthEvent.
const (
	AuthMethodPassword = "password"
	AuthMethodMFA      = "mfa"
	AuthMethodSSO      = "sso"
)

// AuthEvent records a credential verification. Only successful events count
// towards step-up freshness.
type AuthEvent struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	Method    string
	Succeeded bool
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}
