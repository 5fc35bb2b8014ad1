package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskgate.dev/internal/auth"
)

func (s *Store) FindRoleByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at from roles where name = $1
	`, name).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoles(ctx, `select id, name, description, created_at from roles order by name`)
}

func (s *Store) CreateRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var created auth.Role
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, created_at)
		values ($1, $2, $3, $4)
		returning id, name, description, created_at
	`, r.ID, r.Name, r.Description, r.CreatedAt).Scan(&created.ID, &created.Name, &created.Description, &created.CreatedAt)
	if err != nil {
		return auth.Role{}, constraintError(err, auth.ErrNotFound)
	}
	return created, nil
}

func (s *Store) RolesForIdentity(ctx context.Context, identityID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoles(ctx, `
		select r.id, r.name, r.description, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by ur.assigned_at desc
	`, identityID)
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Role{}
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PersistRoleAssignment replaces every role held by identityID with roleID
// in one transaction. The identity row is locked so concurrent assignments
// for the same identity serialize.
func (s *Store) PersistRoleAssignment(ctx context.Context, identityID, roleID string, at time.Time) (auth.Assignment, error) {
	if s.db == nil {
		return auth.Assignment{}, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `select id from users where id = $1 for update`, identityID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Assignment{}, auth.ErrIdentityNotFound
		}
		return auth.Assignment{}, err
	}

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, identityID); err != nil {
		return auth.Assignment{}, err
	}

	var a auth.Assignment
	err = tx.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_at)
		values ($1, $2, $3)
		returning user_id, role_id, assigned_at
	`, identityID, roleID, at).Scan(&a.IdentityID, &a.RoleID, &a.AssignedAt)
	if err != nil {
		return auth.Assignment{}, constraintError(err, auth.ErrRoleNotFound)
	}

	if err := tx.Commit(); err != nil {
		return auth.Assignment{}, err
	}
	return a, nil
}

func (s *Store) DeleteRoleAssignment(ctx context.Context, identityID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, identityID, roleID)
	if err != nil {
		return err
	}
	return affected(res, auth.ErrNotAssigned)
}

const permissionColumns = `id, name, route, method, description, created_at`

func scanPermission(row scanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Route, &p.Method, &p.Description, &p.CreatedAt)
	return p, err
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) FindPermissionsByRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `
		select p.id, p.name, p.route, p.method, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `select `+permissionColumns+` from permissions order by name`)
}

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	created, err := scanPermission(s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, route, method, description, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning `+permissionColumns,
		p.ID, p.Name, p.Route, p.Method, p.Description, p.CreatedAt))
	if err != nil {
		return auth.Permission{}, constraintError(err, auth.ErrNotFound)
	}
	return created, nil
}

func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	if err != nil {
		return constraintError(err, auth.ErrNotFound)
	}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	return affected(res, auth.ErrNotFound)
}
