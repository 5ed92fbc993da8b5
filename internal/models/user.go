package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role inside their firm.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleLawyer     Role = "lawyer"
	RoleParalegal  Role = "paralegal"
	RoleAccountant Role = "accountant"
	RoleSecretary  Role = "secretary"
	RoleClient     Role = "client"
)

// IsAdmin returns true for roles with administrative access to a firm.
// Owners are always administrators.
func (r Role) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User is the identity record consulted by the security middleware.
type User struct {
	UserID          uuid.UUID
	FirmID          *uuid.UUID // nil until the user joins or creates a firm
	Role            Role
	Email           string
	Name            string
	IsEmailVerified bool
	PasswordHash    string // bcrypt, empty when the user cannot sign in with a password

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// HasFirm returns true if the user belongs to a firm.
func (u *User) HasFirm() bool {
	return u.FirmID != nil && *u.FirmID != uuid.Nil
}

// IsDeleted returns true if the user has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}
