/*
Package access implements role-based data-access control.

PURPOSE:
  Given the caller's role and per-module permission set, decide which
  records the caller may see. Every list/view path in the API passes its
  result set through Filter before returning it.

ROLES:
  Three roles with fixed ids: Administrator (sees everything), Employee,
  and Customer. A Customer typically carries the "Read-only (Own Data)"
  access level, which restricts visibility to the caller's own company.

PURITY:
  Filter, CanView and the module-access predicates are pure functions over
  the caller's cached permission snapshot. They hold no state and are
  re-evaluated on every access.

SEE ALSO:
  - filter.go: The filtering predicates
  - catalog (package): Loads and caches permission rows
*/
package access

import (
	"context"
	"errors"
)

// =============================================================================
// ROLES
// =============================================================================

// RoleID identifies a role. The three built-in roles have fixed ids; the
// role table itself is reference data managed elsewhere.
type RoleID string

const (
	RoleAdministrator RoleID = "1"
	RoleEmployee      RoleID = "2"
	RoleCustomer      RoleID = "3"
)

// =============================================================================
// MODULES AND ACCESS LEVELS
// =============================================================================

// ModuleID identifies an application module (a screen group).
type ModuleID string

// Built-in module ids. The name->id table is fixed; modules themselves are
// reference data.
const (
	ModuleCheckouts  ModuleID = "1"
	ModuleCheckins   ModuleID = "2"
	ModuleWorkOrders ModuleID = "3"
	ModulePricing    ModuleID = "4"
	ModuleCatalog    ModuleID = "5"
)

var moduleIDsByName = map[string]ModuleID{
	"checkouts":  ModuleCheckouts,
	"checkins":   ModuleCheckins,
	"workorders": ModuleWorkOrders,
	"pricing":    ModulePricing,
	"catalog":    ModuleCatalog,
}

// ModuleByName resolves a module name through the fixed name->id table.
func ModuleByName(name string) (ModuleID, bool) {
	id, ok := moduleIDsByName[name]
	return id, ok
}

// AccessLevel is the per-module capability granted to a role.
type AccessLevel string

const (
	LevelFull        AccessLevel = "Full"
	LevelReadOnly    AccessLevel = "Read-only"
	LevelReadOnlyOwn AccessLevel = "Read-only (Own Data)"
	LevelCreateEdit  AccessLevel = "Create & Edit"
	LevelViewOnly    AccessLevel = "View Only"
)

// Permission is one (role, module) capability row.
// INVARIANT: at most one row per (role, module) pair.
type Permission struct {
	RoleID   RoleID
	ModuleID ModuleID
	Level    AccessLevel
	Active   bool
}

// PermissionSource loads the permission rows for a role.
// Implementations: catalog.Snapshot, store/memory, store/sqlite.
type PermissionSource interface {
	PermissionsForRole(ctx context.Context, roleID RoleID) ([]Permission, error)
}

// =============================================================================
// CALLER IDENTITY
// =============================================================================

// Identity is the resolved identity behind a bearer token.
type Identity struct {
	UserID    string
	RoleID    RoleID
	CompanyID string
}

// IdentitySource resolves bearer tokens to identities.
// Returns ErrUnauthorized for unknown or revoked tokens.
type IdentitySource interface {
	IdentityByToken(ctx context.Context, token string) (*Identity, error)
}

var (
	// ErrUnauthorized is returned when the server rejects the caller's
	// credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller is authenticated but lacks
	// module access.
	ErrForbidden = errors.New("module access denied")
)

// Caller is an authenticated user plus their cached permission snapshot.
type Caller struct {
	UserID    string
	RoleID    RoleID
	CompanyID string

	perms map[ModuleID]Permission
}

// NewCaller builds a Caller from an identity and its permission rows.
func NewCaller(id Identity, perms []Permission) Caller {
	c := Caller{
		UserID:    id.UserID,
		RoleID:    id.RoleID,
		CompanyID: id.CompanyID,
		perms:     make(map[ModuleID]Permission, len(perms)),
	}
	for _, p := range perms {
		if p.RoleID != id.RoleID {
			continue
		}
		c.perms[p.ModuleID] = p
	}
	return c
}

// IsAdministrator reports whether the caller holds the administrator role.
func (c Caller) IsAdministrator() bool { return c.RoleID == RoleAdministrator }

// Level returns the caller's access level for a module, if an active
// permission row exists.
func (c Caller) Level(moduleID ModuleID) (AccessLevel, bool) {
	p, ok := c.perms[moduleID]
	if !ok || !p.Active {
		return "", false
	}
	return p.Level, true
}
