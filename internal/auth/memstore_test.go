package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu          sync.Mutex
	identities  map[string]Identity
	roles       map[string]Role
	permissions map[string]Permission
	grants      map[string]map[string]struct{}
	assignments map[string][]Assignment

	failWith error
	failOn   map[string]error
	calls    map[string]int
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		identities:  map[string]Identity{},
		roles:       map[string]Role{},
		permissions: map[string]Permission{},
		grants:      map[string]map[string]struct{}{},
		assignments: map[string][]Assignment{},
		calls:       map[string]int{},
		failOn:      map[string]error{},
	}
}

func (m *memStore) track(name string) error {
	m.calls[name]++
	if err, ok := m.failOn[name]; ok {
		return err
	}
	return m.failWith
}

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.track("Ping")
}

func (m *memStore) FindIdentityByID(_ context.Context, id string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindIdentityByID"); err != nil {
		return Identity{}, err
	}
	identity, ok := m.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (m *memStore) FindIdentityByEmail(_ context.Context, email string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindIdentityByEmail"); err != nil {
		return Identity{}, err
	}
	for _, identity := range m.identities {
		if identity.Email == email {
			return identity, nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

func (m *memStore) CreateIdentity(_ context.Context, identity Identity, roleID string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreateIdentity"); err != nil {
		return Identity{}, err
	}
	for _, existing := range m.identities {
		if existing.Email == identity.Email {
			return Identity{}, ErrConflict
		}
	}
	if roleID != "" {
		if _, ok := m.roles[roleID]; !ok {
			return Identity{}, ErrRoleNotFound
		}
		m.assignments[identity.ID] = []Assignment{{IdentityID: identity.ID, RoleID: roleID, AssignedAt: identity.CreatedAt}}
	}
	m.identities[identity.ID] = identity
	return identity, nil
}

func (m *memStore) ListIdentities(_ context.Context, scope ListScope) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListIdentities"); err != nil {
		return nil, err
	}
	out := []Identity{}
	for _, identity := range m.identities {
		if identity.Deleted() == (scope == ListDeleted) {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) UpdateIdentity(_ context.Context, id string, upd IdentityUpdate, at time.Time) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("UpdateIdentity"); err != nil {
		return Identity{}, err
	}
	identity, ok := m.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	if upd.FirstName != nil {
		identity.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		identity.LastName = *upd.LastName
	}
	if upd.Email != nil {
		identity.Email = *upd.Email
	}
	if upd.Age != nil {
		identity.Age = *upd.Age
	}
	if upd.Password != nil {
		identity.PasswordHash = *upd.Password
	}
	identity.UpdatedAt = &at
	m.identities[id] = identity
	return identity, nil
}

func (m *memStore) SetIdentityDeleted(_ context.Context, id string, deletedAt *time.Time) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("SetIdentityDeleted"); err != nil {
		return Identity{}, err
	}
	identity, ok := m.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	identity.DeletedAt = deletedAt
	m.identities[id] = identity
	return identity, nil
}

func (m *memStore) FindRoleByName(_ context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindRoleByName"); err != nil {
		return Role{}, err
	}
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (m *memStore) ListRoles(context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListRoles"); err != nil {
		return nil, err
	}
	out := []Role{}
	for _, role := range m.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) CreateRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreateRole"); err != nil {
		return Role{}, err
	}
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return Role{}, ErrConflict
		}
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) RolesForIdentity(_ context.Context, identityID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("RolesForIdentity"); err != nil {
		return nil, err
	}
	var out []Role
	for _, a := range m.assignments[identityID] {
		out = append(out, m.roles[a.RoleID])
	}
	return out, nil
}

func (m *memStore) PersistRoleAssignment(_ context.Context, identityID, roleID string, at time.Time) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("PersistRoleAssignment"); err != nil {
		return Assignment{}, err
	}
	a := Assignment{IdentityID: identityID, RoleID: roleID, AssignedAt: at}
	m.assignments[identityID] = []Assignment{a}
	return a, nil
}

func (m *memStore) DeleteRoleAssignment(_ context.Context, identityID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("DeleteRoleAssignment"); err != nil {
		return err
	}
	current := m.assignments[identityID]
	kept := current[:0:0]
	for _, a := range current {
		if a.RoleID != roleID {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(current) {
		return ErrNotAssigned
	}
	m.assignments[identityID] = kept
	return nil
}

func (m *memStore) FindPermissionsByRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindPermissionsByRole"); err != nil {
		return nil, err
	}
	var out []Permission
	for permID := range m.grants[roleID] {
		out = append(out, m.permissions[permID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) FindPermissionByName(_ context.Context, name string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindPermissionByName"); err != nil {
		return Permission{}, err
	}
	for _, p := range m.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memStore) ListPermissions(context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListPermissions"); err != nil {
		return nil, err
	}
	out := []Permission{}
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) CreatePermission(_ context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreatePermission"); err != nil {
		return Permission{}, err
	}
	for _, p := range m.permissions {
		if p.Name == perm.Name || p.Key() == perm.Key() {
			return Permission{}, ErrConflict
		}
	}
	m.permissions[perm.ID] = perm
	return perm, nil
}

func (m *memStore) GrantPermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GrantPermission"); err != nil {
		return err
	}
	if m.grants[roleID] == nil {
		m.grants[roleID] = map[string]struct{}{}
	}
	m.grants[roleID][permissionID] = struct{}{}
	return nil
}

func (m *memStore) RevokePermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("RevokePermission"); err != nil {
		return err
	}
	if _, ok := m.grants[roleID][permissionID]; !ok {
		return ErrNotFound
	}
	delete(m.grants[roleID], permissionID)
	return nil
}

// seed helpers

func (m *memStore) addRole(name string, perms ...Permission) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := Role{ID: "role-" + name, Name: name}
	m.roles[role.ID] = role
	for _, p := range perms {
		if p.ID == "" {
			p.ID = "perm-" + p.Key()
		}
		m.permissions[p.ID] = p
		if m.grants[role.ID] == nil {
			m.grants[role.ID] = map[string]struct{}{}
		}
		m.grants[role.ID][p.ID] = struct{}{}
	}
	return role
}

func (m *memStore) addIdentity(identity Identity) Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.ID] = identity
	return identity
}

func (m *memStore) roleNames(identityID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, a := range m.assignments[identityID] {
		names = append(names, m.roles[a.RoleID].Name)
	}
	return names
}
