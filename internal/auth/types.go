package auth

import (
	"strings"
	"time"
)

// Identity is an authenticable principal. Identities are soft-deleted: a
// non-nil DeletedAt hides the record from lookups and blocks login.
type Identity struct {
	ID           string     `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	Age          int        `json:"age"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the identity has been soft-deleted.
func (i Identity) Deleted() bool {
	return i.DeletedAt != nil
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission grants one (route pattern, method) capability. Route is compared
// verbatim, so parameterised segments such as {id} are part of the value.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Route       string    `json:"route"`
	Method      string    `json:"method"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the canonical "METHOD /route" form used in token snapshots and
// permission lookups.
func (p Permission) Key() string {
	return PermissionKey(p.Route, p.Method)
}

// PermissionKey builds the canonical key for a route and method.
func PermissionKey(route, method string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(route)
}

// Assignment links an identity to a role.
type Assignment struct {
	IdentityID string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	RoleName   string    `json:"role_name"`
	AssignedAt time.Time `json:"assigned_at"`
}

// NewIdentity carries the fields required to register an identity.
type NewIdentity struct {
	FirstName string
	LastName  string
	Email     string
	Age       int
	Password  string
	// Role overrides the default role; it must exist.
	Role string
}

// IdentityUpdate lists optional changes; nil fields stay untouched.
type IdentityUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Age       *int
	Password  *string
}

// ListScope selects which identities List returns.
type ListScope int

const (
	ListActive ListScope = iota
	ListDeleted
)
