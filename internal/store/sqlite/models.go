package sqlite

import (
	"time"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/tasks"
)

type userRow struct {
	ID           string `gorm:"primaryKey"`
	FirstName    string `gorm:"size:100;not null"`
	LastName     string `gorm:"size:100;not null"`
	Email        string `gorm:"size:255;not null;uniqueIndex"`
	Age          int    `gorm:"not null;default:0"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    *time.Time `gorm:"autoUpdateTime:false"`
	DeletedAt    *time.Time `gorm:"index"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) identity() auth.Identity {
	return auth.Identity{
		ID:           r.ID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		Age:          r.Age,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    utc(r.UpdatedAt),
		DeletedAt:    utc(r.DeletedAt),
	}
}

type roleRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"size:100;not null;uniqueIndex"`
	Description string `gorm:"not null;default:''"`
	CreatedAt   time.Time
}

func (roleRow) TableName() string { return "roles" }

func (r roleRow) role() auth.Role {
	return auth.Role{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt.UTC()}
}

type permissionRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"size:100;not null;uniqueIndex"`
	Route       string `gorm:"size:255;not null;uniqueIndex:idx_permissions_route_method"`
	Method      string `gorm:"size:10;not null;uniqueIndex:idx_permissions_route_method"`
	Description string `gorm:"not null;default:''"`
	CreatedAt   time.Time
}

func (permissionRow) TableName() string { return "permissions" }

func (r permissionRow) permission() auth.Permission {
	return auth.Permission{
		ID:          r.ID,
		Name:        r.Name,
		Route:       r.Route,
		Method:      r.Method,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type rolePermissionRow struct {
	RoleID       string `gorm:"primaryKey"`
	PermissionID string `gorm:"primaryKey"`
}

func (rolePermissionRow) TableName() string { return "role_permissions" }

type userRoleRow struct {
	UserID     string `gorm:"primaryKey"`
	RoleID     string `gorm:"primaryKey;index"`
	AssignedAt time.Time
}

func (userRoleRow) TableName() string { return "user_roles" }

type taskRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Title       string `gorm:"size:100;not null"`
	Description string
	State       string `gorm:"size:20;not null;default:pending"`
	CreatedAt   time.Time
	UpdatedAt   *time.Time `gorm:"autoUpdateTime:false"`
	DeletedAt   *time.Time `gorm:"index"`
}

func (taskRow) TableName() string { return "tasks" }

func (r taskRow) task() tasks.Task {
	return tasks.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		State:       r.State,
		Users:       []tasks.Member{},
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   utc(r.UpdatedAt),
	}
}

type taskUserRow struct {
	TaskID int64  `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;index"`
}

func (taskUserRow) TableName() string { return "task_users" }

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
