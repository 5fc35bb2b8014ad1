package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskgate.dev/internal/ids"
)

const minPasswordLength = 8

// Directory manages identities and the role/permission catalog. Input is
// validated here; persistence is delegated to the Store.
type Directory struct {
	store       Store
	hasher      PasswordHasher
	authz       *Authorizer
	defaultRole string
	now         func() time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithDefaultRole assigns role to every newly registered identity.
func WithDefaultRole(role string) DirectoryOption {
	return func(d *Directory) {
		d.defaultRole = normalizeName(role)
	}
}

// WithDirectoryClock overrides the time source.
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

// NewDirectory constructs a Directory.
func NewDirectory(store Store, hasher PasswordHasher, authz *Authorizer, opts ...DirectoryOption) (*Directory, error) {
	if store == nil || hasher == nil || authz == nil {
		return nil, errors.New("auth: directory dependencies are required")
	}
	d := &Directory{store: store, hasher: hasher, authz: authz, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Register creates an identity together with its first role. An explicit
// in.Role must exist; otherwise the default role is used when configured and
// present in the catalog.
func (d *Directory) Register(ctx context.Context, in NewIdentity) (Identity, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	if in.FirstName == "" || in.LastName == "" {
		return Identity{}, fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	if err := validateEmail(in.Email); err != nil {
		return Identity{}, err
	}
	if err := validateAge(in.Age); err != nil {
		return Identity{}, err
	}
	roleID, err := d.initialRole(ctx, in.Role)
	if err != nil {
		return Identity{}, err
	}
	hash, err := d.hashPassword(in.Password)
	if err != nil {
		return Identity{}, err
	}
	created, err := d.store.CreateIdentity(ctx, Identity{
		ID:           uuid.NewString(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Age:          in.Age,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC(),
	}, roleID)
	if err != nil {
		return Identity{}, storeError(err)
	}
	return created, nil
}

func (d *Directory) initialRole(ctx context.Context, requested string) (string, error) {
	name := normalizeName(requested)
	explicit := name != ""
	if !explicit {
		name = d.defaultRole
	}
	if name == "" {
		return "", nil
	}
	role, err := d.store.FindRoleByName(ctx, name)
	switch {
	case err == nil:
		return role.ID, nil
	case errors.Is(err, ErrRoleNotFound) && !explicit:
		return "", nil
	default:
		return "", storeError(err)
	}
}

// List returns active or soft-deleted identities.
func (d *Directory) List(ctx context.Context, scope ListScope) ([]Identity, error) {
	list, err := d.store.ListIdentities(ctx, scope)
	if err != nil {
		return nil, storeError(err)
	}
	return list, nil
}

// Get returns an active identity.
func (d *Directory) Get(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	identity, err := d.store.FindIdentityByID(ctx, id)
	if err != nil {
		return Identity{}, storeError(err)
	}
	if identity.Deleted() {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

// Update applies upd to an active identity.
func (d *Directory) Update(ctx context.Context, id string, upd IdentityUpdate) (Identity, error) {
	if _, err := d.Get(ctx, id); err != nil {
		return Identity{}, err
	}
	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		if v == "" {
			return Identity{}, fmt.Errorf("%w: first_name cannot be empty", ErrInvalidInput)
		}
		upd.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		if v == "" {
			return Identity{}, fmt.Errorf("%w: last_name cannot be empty", ErrInvalidInput)
		}
		upd.LastName = &v
	}
	if upd.Email != nil {
		v := normalizeEmail(*upd.Email)
		if err := validateEmail(v); err != nil {
			return Identity{}, err
		}
		upd.Email = &v
	}
	if upd.Age != nil {
		if err := validateAge(*upd.Age); err != nil {
			return Identity{}, err
		}
	}
	if upd.Password != nil {
		hash, err := d.hashPassword(*upd.Password)
		if err != nil {
			return Identity{}, err
		}
		upd.Password = &hash
	}
	updated, err := d.store.UpdateIdentity(ctx, strings.TrimSpace(id), upd, d.now().UTC())
	if err != nil {
		return Identity{}, storeError(err)
	}
	return updated, nil
}

// Delete soft-deletes an active identity.
func (d *Directory) Delete(ctx context.Context, id string) (Identity, error) {
	if _, err := d.Get(ctx, id); err != nil {
		return Identity{}, err
	}
	at := d.now().UTC()
	deleted, err := d.store.SetIdentityDeleted(ctx, strings.TrimSpace(id), &at)
	if err != nil {
		return Identity{}, storeError(err)
	}
	return deleted, nil
}

// Restore clears the soft-delete mark of an identity.
func (d *Directory) Restore(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	identity, err := d.store.FindIdentityByID(ctx, id)
	if err != nil {
		return Identity{}, storeError(err)
	}
	if !identity.Deleted() {
		return Identity{}, fmt.Errorf("%w: user %s is not deleted", ErrInvalidInput, id)
	}
	restored, err := d.store.SetIdentityDeleted(ctx, id, nil)
	if err != nil {
		return Identity{}, storeError(err)
	}
	return restored, nil
}

// ListRoles returns the role catalog.
func (d *Directory) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := d.store.ListRoles(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return roles, nil
}

// CreateRole adds a role to the catalog.
func (d *Directory) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = normalizeName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := d.store.CreateRole(ctx, Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   d.now().UTC(),
	})
	if err != nil {
		return Role{}, storeError(err)
	}
	return role, nil
}

// ListPermissions returns the permission catalog.
func (d *Directory) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := d.store.ListPermissions(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

// CreatePermission adds a (route, method) capability to the catalog.
func (d *Directory) CreatePermission(ctx context.Context, name, route, method, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	route = strings.TrimSpace(route)
	method = strings.ToUpper(strings.TrimSpace(method))
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(route, "/") {
		return Permission{}, fmt.Errorf("%w: route must start with /", ErrInvalidInput)
	}
	if !isHTTPMethod(method) {
		return Permission{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, method)
	}
	perm, err := d.store.CreatePermission(ctx, Permission{
		ID:          ids.New(),
		Name:        name,
		Route:       route,
		Method:      method,
		Description: strings.TrimSpace(description),
		CreatedAt:   d.now().UTC(),
	})
	if err != nil {
		return Permission{}, storeError(err)
	}
	return perm, nil
}

// RolePermissions lists the permissions granted to roleName.
func (d *Directory) RolePermissions(ctx context.Context, roleName string) ([]Permission, error) {
	return d.authz.PermissionsForRole(ctx, roleName)
}

// GrantPermission grants permissionName to roleName. Granting twice is a no-op.
func (d *Directory) GrantPermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := d.resolveGrant(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	if err := d.store.GrantPermission(ctx, role.ID, perm.ID); err != nil {
		return storeError(err)
	}
	d.authz.Invalidate(role.Name)
	return nil
}

// RevokePermission removes permissionName from roleName.
func (d *Directory) RevokePermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := d.resolveGrant(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	if err := d.store.RevokePermission(ctx, role.ID, perm.ID); err != nil {
		return storeError(err)
	}
	d.authz.Invalidate(role.Name)
	return nil
}

func (d *Directory) resolveGrant(ctx context.Context, roleName, permissionName string) (Role, Permission, error) {
	roleName = normalizeName(roleName)
	permissionName = strings.TrimSpace(permissionName)
	if roleName == "" || permissionName == "" {
		return Role{}, Permission{}, fmt.Errorf("%w: role and permission are required", ErrInvalidInput)
	}
	role, err := d.store.FindRoleByName(ctx, roleName)
	if err != nil {
		return Role{}, Permission{}, storeError(err)
	}
	perm, err := d.store.FindPermissionByName(ctx, permissionName)
	if err != nil {
		return Role{}, Permission{}, storeError(err)
	}
	return role, perm, nil
}

func (d *Directory) hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return d.hasher.Hash(password)
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if email == "" || at <= 0 || at == len(email)-1 || len(email) > 255 || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return nil
}

func validateAge(age int) error {
	if age < 0 || age > 150 {
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalidInput)
	}
	return nil
}
