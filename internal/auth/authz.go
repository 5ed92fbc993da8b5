package auth

import (
	"fmt"
	"strings"

	"github.com/wolfeidau/firmguard/internal/models"
)

// Level is an access level within a module. Higher levels imply lower ones.
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelCreate
	LevelEdit
	LevelDelete
	LevelFull
)

var levelNames = map[string]Level{
	"view":   LevelView,
	"create": LevelCreate,
	"edit":   LevelEdit,
	"delete": LevelDelete,
	"full":   LevelFull,
}

func (l Level) String() string {
	for name, lvl := range levelNames {
		if lvl == l {
			return name
		}
	}
	return "none"
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return LevelNone, fmt.Errorf("unknown permission level %q", s)
	}
	return lvl, nil
}

// Permission is a module and the level required on it.
type Permission struct {
	Module string
	Level  Level
}

func (p Permission) String() string {
	return p.Module + ":" + p.Level.String()
}

// ParsePermission parses the "module:level" shorthand, e.g. "cases:edit".
func ParsePermission(s string) (Permission, error) {
	module, level, ok := strings.Cut(s, ":")
	if !ok || module == "" {
		return Permission{}, fmt.Errorf("invalid permission %q, expected module:level", s)
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return Permission{}, err
	}
	return Permission{Module: strings.ToLower(strings.TrimSpace(module)), Level: lvl}, nil
}

// Modules guarded by permissions.
const (
	ModuleCases     = "cases"
	ModuleClients   = "clients"
	ModuleDocuments = "documents"
	ModuleInvoices  = "invoices"
	ModulePayments  = "payments"
	ModuleReports   = "reports"
	ModuleTeam      = "team"
	ModuleSettings  = "settings"
)

// RolePermissions maps roles to the highest level granted per module.
// Owners and admins are handled separately and hold every permission.
var RolePermissions = map[models.Role]map[string]Level{
	models.RoleLawyer: {
		ModuleCases:     LevelFull,
		ModuleClients:   LevelEdit,
		ModuleDocuments: LevelFull,
		ModuleInvoices:  LevelCreate,
		ModuleReports:   LevelView,
		ModuleTeam:      LevelView,
	},
	models.RoleParalegal: {
		ModuleCases:     LevelEdit,
		ModuleClients:   LevelView,
		ModuleDocuments: LevelEdit,
		ModuleTeam:      LevelView,
	},
	models.RoleAccountant: {
		ModuleClients:  LevelView,
		ModuleInvoices: LevelFull,
		ModulePayments: LevelFull,
		ModuleReports:  LevelFull,
	},
	models.RoleSecretary: {
		ModuleCases:     LevelView,
		ModuleClients:   LevelCreate,
		ModuleDocuments: LevelCreate,
		ModuleTeam:      LevelView,
	},
	models.RoleClient: {
		ModuleCases:     LevelView,
		ModuleDocuments: LevelView,
		ModuleInvoices:  LevelView,
	},
}

// HasPermission checks if a role holds a permission.
func HasPermission(role models.Role, perm Permission) bool {
	if role.IsAdmin() {
		return true
	}
	granted, ok := RolePermissions[role][perm.Module]
	if !ok {
		return false
	}
	return granted >= perm.Level
}
