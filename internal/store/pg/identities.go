package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskgate.dev/internal/auth"
)

const identityColumns = `id, first_name, last_name, email, age, password_hash, created_at, updated_at, deleted_at`

func scanIdentity(row scanner) (auth.Identity, error) {
	var (
		i                  auth.Identity
		updated, deletedAt sql.NullTime
	)
	if err := row.Scan(&i.ID, &i.FirstName, &i.LastName, &i.Email, &i.Age, &i.PasswordHash, &i.CreatedAt, &updated, &deletedAt); err != nil {
		return auth.Identity{}, err
	}
	i.UpdatedAt = nullTime(updated)
	i.DeletedAt = nullTime(deletedAt)
	return i, nil
}

func (s *Store) findIdentity(ctx context.Context, where string, arg any) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	i, err := scanIdentity(s.db.QueryRowContext(ctx, `select `+identityColumns+` from users where `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	return i, err
}

func (s *Store) FindIdentityByID(ctx context.Context, id string) (auth.Identity, error) {
	return s.findIdentity(ctx, `id = $1`, id)
}

func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	return s.findIdentity(ctx, `email = $1`, email)
}

func (s *Store) CreateIdentity(ctx context.Context, i auth.Identity, roleID string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Identity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanIdentity(tx.QueryRowContext(ctx, `
		insert into users (id, first_name, last_name, email, age, password_hash, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+identityColumns,
		i.ID, i.FirstName, i.LastName, i.Email, i.Age, i.PasswordHash, i.CreatedAt))
	if err != nil {
		return auth.Identity{}, constraintError(err, auth.ErrNotFound)
	}
	if roleID != "" {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id, assigned_at) values ($1, $2, $3)
		`, created.ID, roleID, i.CreatedAt); err != nil {
			return auth.Identity{}, constraintError(err, auth.ErrRoleNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return auth.Identity{}, err
	}
	return created, nil
}

func (s *Store) ListIdentities(ctx context.Context, scope auth.ListScope) ([]auth.Identity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	cond := `deleted_at is null`
	if scope == auth.ListDeleted {
		cond = `deleted_at is not null`
	}
	rows, err := s.db.QueryContext(ctx, `select `+identityColumns+` from users where `+cond+` order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Identity{}
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate, at time.Time) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	var (
		setClauses []string
		args       []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.Age != nil {
		set("age", *upd.Age)
	}
	if upd.Password != nil {
		set("password_hash", *upd.Password)
	}
	set("updated_at", at)
	args = append(args, id)

	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`, strings.Join(setClauses, ", "), len(args), identityColumns)
	updated, err := scanIdentity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	if err != nil {
		return auth.Identity{}, constraintError(err, auth.ErrNotFound)
	}
	return updated, nil
}

func (s *Store) SetIdentityDeleted(ctx context.Context, id string, deletedAt *time.Time) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	var at sql.NullTime
	if deletedAt != nil {
		at = sql.NullTime{Time: *deletedAt, Valid: true}
	}
	i, err := scanIdentity(s.db.QueryRowContext(ctx, `
		update users set deleted_at = $1 where id = $2
		returning `+identityColumns, at, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	return i, err
}
