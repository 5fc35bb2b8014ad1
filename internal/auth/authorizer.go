package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = time.Minute
)

// Authorizer owns the role/permission model: it answers permission checks and
// enforces the one-role-per-identity rule on assignment.
type Authorizer struct {
	store Store
	now   func() time.Time
	cache *expirable.LRU[string, map[string]struct{}]
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithPermissionCache caches role permission sets for ttl. A zero ttl
// disables caching.
func WithPermissionCache(size int, ttl time.Duration) AuthorizerOption {
	return func(a *Authorizer) {
		if ttl <= 0 {
			a.cache = nil
			return
		}
		if size <= 0 {
			size = defaultCacheSize
		}
		a.cache = expirable.NewLRU[string, map[string]struct{}](size, nil, ttl)
	}
}

// WithAuthorizerClock overrides the time source used for assignment timestamps.
func WithAuthorizerClock(fn func() time.Time) AuthorizerOption {
	return func(a *Authorizer) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthorizer constructs an Authorizer backed by store.
func NewAuthorizer(store Store, opts ...AuthorizerOption) (*Authorizer, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	a := &Authorizer{
		store: store,
		now:   time.Now,
		cache: expirable.NewLRU[string, map[string]struct{}](defaultCacheSize, nil, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// HasPermission reports whether roleName owns a permission whose route and
// method match exactly. Unknown roles own nothing.
func (a *Authorizer) HasPermission(ctx context.Context, roleName, route, method string) (bool, error) {
	roleName = normalizeName(roleName)
	if roleName == "" {
		return false, nil
	}
	set, err := a.permissionSet(ctx, roleName)
	if err != nil {
		return false, err
	}
	_, ok := set[PermissionKey(route, method)]
	return ok, nil
}

// PermissionsForRole returns the permissions granted to roleName.
func (a *Authorizer) PermissionsForRole(ctx context.Context, roleName string) ([]Permission, error) {
	role, err := a.store.FindRoleByName(ctx, normalizeName(roleName))
	if err != nil {
		return nil, storeError(err)
	}
	perms, err := a.store.FindPermissionsByRole(ctx, role.ID)
	if err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

func (a *Authorizer) permissionSet(ctx context.Context, roleName string) (map[string]struct{}, error) {
	if a.cache != nil {
		if set, ok := a.cache.Get(roleName); ok {
			return set, nil
		}
	}
	perms, err := a.PermissionsForRole(ctx, roleName)
	if errors.Is(err, ErrRoleNotFound) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Key()] = struct{}{}
	}
	if a.cache != nil {
		a.cache.Add(roleName, set)
	}
	return set, nil
}

// Invalidate drops the cached permission set of roleName.
func (a *Authorizer) Invalidate(roleName string) {
	if a.cache != nil {
		a.cache.Remove(normalizeName(roleName))
	}
}

// InvalidateAll drops every cached permission set.
func (a *Authorizer) InvalidateAll() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

// AssignRole makes roleName the only role held by identityID.
func (a *Authorizer) AssignRole(ctx context.Context, identityID, roleName string) (Assignment, error) {
	identityID = strings.TrimSpace(identityID)
	roleName = normalizeName(roleName)
	if identityID == "" || roleName == "" {
		return Assignment{}, fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := a.store.FindRoleByName(ctx, roleName)
	if err != nil {
		return Assignment{}, storeError(err)
	}
	if _, err := a.activeIdentity(ctx, identityID); err != nil {
		return Assignment{}, err
	}
	current, err := a.store.RolesForIdentity(ctx, identityID)
	if err != nil {
		return Assignment{}, storeError(err)
	}
	if len(current) == 1 && current[0].ID == role.ID {
		return Assignment{}, fmt.Errorf("%w: %s already holds %s", ErrAlreadyAssigned, identityID, role.Name)
	}
	assignment, err := a.store.PersistRoleAssignment(ctx, identityID, role.ID, a.now().UTC())
	if err != nil {
		return Assignment{}, storeError(err)
	}
	assignment.RoleName = role.Name
	return assignment, nil
}

// RemoveRole detaches roleName from identityID, leaving it with no role.
func (a *Authorizer) RemoveRole(ctx context.Context, identityID, roleName string) error {
	identityID = strings.TrimSpace(identityID)
	roleName = normalizeName(roleName)
	if identityID == "" || roleName == "" {
		return fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := a.store.FindRoleByName(ctx, roleName)
	if err != nil {
		return storeError(err)
	}
	if _, err := a.activeIdentity(ctx, identityID); err != nil {
		return err
	}
	if err := a.store.DeleteRoleAssignment(ctx, identityID, role.ID); err != nil {
		return storeError(err)
	}
	return nil
}

// CurrentRole returns the role currently held by identityID, if any.
func (a *Authorizer) CurrentRole(ctx context.Context, identityID string) (Role, bool, error) {
	roles, err := a.store.RolesForIdentity(ctx, identityID)
	if err != nil {
		return Role{}, false, storeError(err)
	}
	if len(roles) == 0 {
		return Role{}, false, nil
	}
	return roles[0], true, nil
}

func (a *Authorizer) activeIdentity(ctx context.Context, identityID string) (Identity, error) {
	identity, err := a.store.FindIdentityByID(ctx, identityID)
	if err != nil {
		return Identity{}, storeError(err)
	}
	if identity.Deleted() {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
