package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Adapters report missing rows with the package sentinels (ErrIdentityNotFound,
// ErrRoleNotFound, ErrNotFound, ErrNotAssigned) and uniqueness violations with
// ErrConflict; any other error is treated as the store being unavailable.
type Store interface {
	IdentityStore
	RoleStore
	PermissionStore
	Ping(ctx context.Context) error
}

// IdentityStore manages identities. Lookups return soft-deleted rows too;
// callers decide what a deleted identity may do.
type IdentityStore interface {
	FindIdentityByID(ctx context.Context, id string) (Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (Identity, error)
	// CreateIdentity inserts identity and, when roleID is not empty, its
	// first role assignment in the same transaction.
	CreateIdentity(ctx context.Context, identity Identity, roleID string) (Identity, error)
	ListIdentities(ctx context.Context, scope ListScope) ([]Identity, error)
	UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate, at time.Time) (Identity, error)
	SetIdentityDeleted(ctx context.Context, id string, deletedAt *time.Time) (Identity, error)
}

// RoleStore manages roles and identity assignments.
type RoleStore interface {
	FindRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	RolesForIdentity(ctx context.Context, identityID string) ([]Role, error)
	// PersistRoleAssignment replaces every assignment held by the identity
	// with the given role in a single transaction.
	PersistRoleAssignment(ctx context.Context, identityID, roleID string, at time.Time) (Assignment, error)
	DeleteRoleAssignment(ctx context.Context, identityID, roleID string) error
}

// PermissionStore manages the permission catalog and role grants.
type PermissionStore interface {
	FindPermissionsByRole(ctx context.Context, roleID string) ([]Permission, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
}
