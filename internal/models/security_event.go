package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent is an audit record of a denied or suspicious request.
type SecurityEvent struct {
	EventID   uuid.UUID
	Kind      string
	Code      string
	Status    int
	UserID    *uuid.UUID // nil for anonymous requests
	ClientIP  string
	Method    string
	Path      string
	Score     float64
	CreatedAt time.Time
}
