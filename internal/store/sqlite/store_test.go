package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/config"
	"taskgate.dev/internal/tasks"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taskgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fixture struct {
	store *Store
	dir   *auth.Directory
	authz *auth.Authorizer
}

func seeded(t *testing.T) fixture {
	t.Helper()
	s := openTestStore(t)
	authz, err := auth.NewAuthorizer(s)
	require.NoError(t, err)
	dir, err := auth.NewDirectory(s, auth.BcryptHasher{Cost: bcrypt.MinCost}, authz, auth.WithDefaultRole("client"))
	require.NoError(t, err)

	policy, err := config.DefaultPolicy()
	require.NoError(t, err)
	_, err = dir.ApplyCatalog(context.Background(), policy.Catalog)
	require.NoError(t, err)
	return fixture{store: s, dir: dir, authz: authz}
}

func (f fixture) register(t *testing.T, email string) auth.Identity {
	t.Helper()
	identity, err := f.dir.Register(context.Background(), auth.NewIdentity{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Age:       30,
		Password:  "password-123",
	})
	require.NoError(t, err)
	return identity
}

func TestPing(t *testing.T) {
	require.NoError(t, openTestStore(t).Ping(context.Background()))
}

func TestCatalogSeedIsIdempotent(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()
	policy, err := config.DefaultPolicy()
	require.NoError(t, err)

	report, err := f.dir.ApplyCatalog(ctx, policy.Catalog)
	require.NoError(t, err)
	assert.Zero(t, report.PermissionsCreated)
	assert.Zero(t, report.RolesCreated)

	roles, err := f.store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(policy.Catalog.Roles))

	perms, err := f.store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(policy.Catalog.Permissions))
}

func TestIdentityLifecycle(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	ana := f.register(t, "ana@example.com")
	got, err := f.store.FindIdentityByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, ana.ID, got.ID)

	_, err = f.dir.Register(ctx, auth.NewIdentity{FirstName: "A", LastName: "B", Email: "ana@example.com", Password: "password-123"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	name := "Anabel"
	updated, err := f.dir.Update(ctx, ana.ID, auth.IdentityUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Anabel", updated.FirstName)
	assert.NotNil(t, updated.UpdatedAt)

	_, err = f.store.UpdateIdentity(ctx, "missing", auth.IdentityUpdate{FirstName: &name}, time.Now())
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	deleted, err := f.dir.Delete(ctx, ana.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())

	gone, err := f.store.ListIdentities(ctx, auth.ListDeleted)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	active, err := f.store.ListIdentities(ctx, auth.ListActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	restored, err := f.dir.Restore(ctx, ana.ID)
	require.NoError(t, err)
	assert.False(t, restored.Deleted())
}

func TestRoleAssignmentIsExclusive(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()
	bob := f.register(t, "bob@example.com")

	role, ok, err := f.authz.CurrentRole(ctx, bob.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "client", role.Name)

	_, err = f.authz.AssignRole(ctx, bob.ID, "admin")
	require.NoError(t, err)
	_, err = f.authz.AssignRole(ctx, bob.ID, "manager")
	require.NoError(t, err)

	roles, err := f.store.RolesForIdentity(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "manager", roles[0].Name)

	_, err = f.authz.AssignRole(ctx, bob.ID, "manager")
	assert.ErrorIs(t, err, auth.ErrAlreadyAssigned)
	_, err = f.store.PersistRoleAssignment(ctx, "missing", roles[0].ID, time.Now())
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
	_, err = f.store.PersistRoleAssignment(ctx, bob.ID, "missing", time.Now())
	assert.ErrorIs(t, err, auth.ErrRoleNotFound)

	assert.ErrorIs(t, f.authz.RemoveRole(ctx, bob.ID, "admin"), auth.ErrNotAssigned)
	require.NoError(t, f.authz.RemoveRole(ctx, bob.ID, "manager"))
	_, ok, err = f.authz.CurrentRole(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissionsFollowCatalog(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	cases := []struct {
		role, route, method string
		want                bool
	}{
		{"employee", "/tasks", "GET", true},
		{"employee", "/tasks", "POST", false},
		{"manager", "/tasks", "POST", true},
		{"manager", "/users/{id}", "DELETE", false},
		{"admin", "/users/{id}", "DELETE", true},
		{"client", "/users/me", "GET", true},
		{"client", "/tasks", "GET", true},
		{"client", "/tasks/{id}/state", "PATCH", true},
		{"client", "/tasks", "POST", false},
	}
	for _, tc := range cases {
		got, err := f.authz.HasPermission(ctx, tc.role, tc.route, tc.method)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %s %s", tc.role, tc.method, tc.route)
	}

	require.NoError(t, f.dir.GrantPermission(ctx, "client", "tasks.create"))
	require.NoError(t, f.dir.GrantPermission(ctx, "client", "tasks.create"))
	ok, err := f.authz.HasPermission(ctx, "client", "/tasks", "POST")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.dir.RevokePermission(ctx, "client", "tasks.create"))
	assert.ErrorIs(t, f.dir.RevokePermission(ctx, "client", "tasks.create"), auth.ErrNotFound)

	_, err = f.dir.CreatePermission(ctx, "tasks.again", "/tasks", "GET", "")
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestTaskStore(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()
	ana := f.register(t, "ana@example.com")
	bob := f.register(t, "bob@example.com")
	svc, err := tasks.NewService(f.store, f.store)
	require.NoError(t, err)

	created, err := svc.Create(ctx, tasks.NewTask{Title: "Write report", UserID: ana.ID})
	require.NoError(t, err)
	assert.Equal(t, tasks.StatePending, created.State)
	require.Len(t, created.Users, 1)
	assert.Equal(t, ana.ID, created.Users[0].ID)

	_, err = svc.Create(ctx, tasks.NewTask{Title: "Orphan", UserID: "missing"})
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	task, err := svc.Assign(ctx, created.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, task.Users, 2)
	_, err = svc.Assign(ctx, created.ID, bob.ID)
	assert.ErrorIs(t, err, tasks.ErrUserAssigned)

	task, err = svc.UpdateState(ctx, created.ID, tasks.StateInProgress)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateInProgress, task.State)
	assert.NotNil(t, task.UpdatedAt)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].HasUser(bob.ID))

	_, err = svc.Unassign(ctx, created.ID, bob.ID)
	require.NoError(t, err)
	_, err = svc.Unassign(ctx, created.ID, bob.ID)
	assert.ErrorIs(t, err, tasks.ErrUserNotAssigned)

	_, err = svc.Get(ctx, 999)
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)
	_, err = f.store.UpdateTaskState(ctx, 999, tasks.StateCompleted, time.Now())
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)
}
