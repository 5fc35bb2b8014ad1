package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/tasks"
)

// Store implements auth.Store and tasks.Store on an embedded SQLite file
// through gorm. It suits single-node deployments and integration tests.
type Store struct {
	db *gorm.DB
}

var (
	_ auth.Store  = (*Store)(nil)
	_ tasks.Store = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&userRow{}, &roleRow{}, &permissionRow{}, &rolePermissionRow{},
		&userRoleRow{}, &taskRow{}, &taskUserRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// translate maps gorm errors onto domain errors.
func translate(err, missing error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return missing
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return auth.ErrConflict
	}
	return err
}

// Identities

func (s *Store) FindIdentityByID(ctx context.Context, id string) (auth.Identity, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return auth.Identity{}, translate(err, auth.ErrIdentityNotFound)
	}
	return row.identity(), nil
}

func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "email = ?", email).Error; err != nil {
		return auth.Identity{}, translate(err, auth.ErrIdentityNotFound)
	}
	return row.identity(), nil
}

// CreateIdentity inserts the identity and its first role in one transaction.
func (s *Store) CreateIdentity(ctx context.Context, i auth.Identity, roleID string) (auth.Identity, error) {
	row := userRow{
		ID:           i.ID,
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		Email:        i.Email,
		Age:          i.Age,
		PasswordHash: i.PasswordHash,
		CreatedAt:    i.CreatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return translate(err, auth.ErrNotFound)
		}
		if roleID == "" {
			return nil
		}
		var role roleRow
		if err := tx.Select("id").First(&role, "id = ?", roleID).Error; err != nil {
			return translate(err, auth.ErrRoleNotFound)
		}
		return tx.Create(&userRoleRow{UserID: row.ID, RoleID: roleID, AssignedAt: i.CreatedAt}).Error
	})
	if err != nil {
		return auth.Identity{}, err
	}
	return row.identity(), nil
}

func (s *Store) ListIdentities(ctx context.Context, scope auth.ListScope) ([]auth.Identity, error) {
	q := s.db.WithContext(ctx).Where("deleted_at IS NULL")
	if scope == auth.ListDeleted {
		q = s.db.WithContext(ctx).Where("deleted_at IS NOT NULL")
	}
	var rows []userRow
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]auth.Identity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.identity())
	}
	return out, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate, at time.Time) (auth.Identity, error) {
	changes := map[string]any{"updated_at": at}
	if upd.FirstName != nil {
		changes["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		changes["last_name"] = *upd.LastName
	}
	if upd.Email != nil {
		changes["email"] = *upd.Email
	}
	if upd.Age != nil {
		changes["age"] = *upd.Age
	}
	if upd.Password != nil {
		changes["password_hash"] = *upd.Password
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return auth.Identity{}, translate(res.Error, auth.ErrIdentityNotFound)
	}
	if res.RowsAffected == 0 {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	return s.FindIdentityByID(ctx, id)
}

func (s *Store) SetIdentityDeleted(ctx context.Context, id string, deletedAt *time.Time) (auth.Identity, error) {
	var value any
	if deletedAt != nil {
		value = *deletedAt
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("deleted_at", value)
	if res.Error != nil {
		return auth.Identity{}, res.Error
	}
	if res.RowsAffected == 0 {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	return s.FindIdentityByID(ctx, id)
}

// Roles

func (s *Store) FindRoleByName(ctx context.Context, name string) (auth.Role, error) {
	var row roleRow
	if err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		return auth.Role{}, translate(err, auth.ErrRoleNotFound)
	}
	return row.role(), nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	var rows []roleRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return roles(rows), nil
}

func (s *Store) CreateRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	row := roleRow{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return auth.Role{}, translate(err, auth.ErrNotFound)
	}
	return row.role(), nil
}

func (s *Store) RolesForIdentity(ctx context.Context, identityID string) ([]auth.Role, error) {
	var rows []roleRow
	err := s.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", identityID).
		Order("user_roles.assigned_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return roles(rows), nil
}

func roles(rows []roleRow) []auth.Role {
	out := make([]auth.Role, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.role())
	}
	return out
}

// PersistRoleAssignment replaces the identity's roles with roleID inside one
// gorm transaction.
func (s *Store) PersistRoleAssignment(ctx context.Context, identityID, roleID string, at time.Time) (auth.Assignment, error) {
	var a auth.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userRow
		if err := tx.Select("id").First(&user, "id = ?", identityID).Error; err != nil {
			return translate(err, auth.ErrIdentityNotFound)
		}
		var role roleRow
		if err := tx.Select("id").First(&role, "id = ?", roleID).Error; err != nil {
			return translate(err, auth.ErrRoleNotFound)
		}
		if err := tx.Where("user_id = ?", identityID).Delete(&userRoleRow{}).Error; err != nil {
			return err
		}
		row := userRoleRow{UserID: identityID, RoleID: roleID, AssignedAt: at}
		if err := tx.Create(&row).Error; err != nil {
			return translate(err, auth.ErrNotFound)
		}
		a = auth.Assignment{IdentityID: row.UserID, RoleID: row.RoleID, AssignedAt: row.AssignedAt.UTC()}
		return nil
	})
	if err != nil {
		return auth.Assignment{}, err
	}
	return a, nil
}

func (s *Store) DeleteRoleAssignment(ctx context.Context, identityID, roleID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND role_id = ?", identityID, roleID).Delete(&userRoleRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return auth.ErrNotAssigned
	}
	return nil
}

// Permissions

func (s *Store) FindPermissionsByRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	var rows []permissionRow
	err := s.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Order("permissions.name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return permissions(rows), nil
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	var row permissionRow
	if err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		return auth.Permission{}, translate(err, auth.ErrNotFound)
	}
	return row.permission(), nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	var rows []permissionRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return permissions(rows), nil
}

func permissions(rows []permissionRow) []auth.Permission {
	out := make([]auth.Permission, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.permission())
	}
	return out
}

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	row := permissionRow{
		ID:          p.ID,
		Name:        p.Name,
		Route:       p.Route,
		Method:      p.Method,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return auth.Permission{}, translate(err, auth.ErrNotFound)
	}
	return row.permission(), nil
}

func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	row := rolePermissionRow{RoleID: roleID, PermissionID: permissionID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	res := s.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&rolePermissionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return auth.ErrNotFound
	}
	return nil
}
