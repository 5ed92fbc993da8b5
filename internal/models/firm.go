package models

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Firm is a tenant. All case, client and billing data is scoped to a firm.
type Firm struct {
	FirmID      uuid.UUID
	Name        string
	OwnerUserID uuid.UUID

	// IPRestrictionEnabled turns on the allow-list check for every member.
	IPRestrictionEnabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllowedNetwork is a single allow-list entry for a firm.
type AllowedNetwork struct {
	FirmID      uuid.UUID
	Prefix      netip.Prefix
	Description string
	CreatedAt   time.Time
}
