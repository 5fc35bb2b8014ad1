package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/tasks"
)

type memberRow struct {
	TaskID    int64
	ID        string
	FirstName string
	LastName  string
	Email     string
	Age       int
}

func (m memberRow) member() tasks.Member {
	return tasks.Member{ID: m.ID, FirstName: m.FirstName, LastName: m.LastName, Email: m.Email, Age: m.Age}
}

func (s *Store) members(ctx context.Context, taskIDs ...int64) ([]memberRow, error) {
	var rows []memberRow
	err := s.db.WithContext(ctx).
		Table("task_users").
		Select("task_users.task_id, users.id, users.first_name, users.last_name, users.email, users.age").
		Joins("JOIN users ON users.id = task_users.user_id").
		Where("task_users.task_id IN ?", taskIDs).
		Order("task_users.task_id, users.email").
		Scan(&rows).Error
	return rows, err
}

func (s *Store) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Where("deleted_at IS NULL").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []tasks.Task{}, nil
	}

	out := make([]tasks.Task, 0, len(rows))
	index := make(map[int64]int, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		index[r.ID] = len(out)
		ids = append(ids, r.ID)
		out = append(out, r.task())
	}
	members, err := s.members(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if i, ok := index[m.TaskID]; ok {
			out[i].Users = append(out[i].Users, m.member())
		}
	}
	return out, nil
}

func (s *Store) FindTask(ctx context.Context, id int64) (tasks.Task, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("deleted_at IS NULL").First(&row, "id = ?", id).Error; err != nil {
		return tasks.Task{}, translate(err, tasks.ErrTaskNotFound)
	}
	t := row.task()
	members, err := s.members(ctx, id)
	if err != nil {
		return tasks.Task{}, err
	}
	for _, m := range members {
		t.Users = append(t.Users, m.member())
	}
	return t, nil
}

// CreateTask inserts the task and its owner link in one transaction.
func (s *Store) CreateTask(ctx context.Context, t tasks.Task, ownerID string) (tasks.Task, error) {
	row := taskRow{Title: t.Title, Description: t.Description, State: t.State, CreatedAt: t.CreatedAt}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner userRow
		if err := tx.Select("id").First(&owner, "id = ?", ownerID).Error; err != nil {
			return translate(err, auth.ErrIdentityNotFound)
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&taskUserRow{TaskID: row.ID, UserID: ownerID}).Error
	})
	if err != nil {
		return tasks.Task{}, err
	}
	return s.FindTask(ctx, row.ID)
}

func (s *Store) UpdateTaskState(ctx context.Context, id int64, state string, at time.Time) (tasks.Task, error) {
	res := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{"state": state, "updated_at": at})
	if res.Error != nil {
		return tasks.Task{}, res.Error
	}
	if res.RowsAffected == 0 {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return s.FindTask(ctx, id)
}

func (s *Store) AddTaskUser(ctx context.Context, taskID int64, userID string) error {
	err := s.db.WithContext(ctx).Create(&taskUserRow{TaskID: taskID, UserID: userID}).Error
	if err := translate(err, tasks.ErrTaskNotFound); errors.Is(err, auth.ErrConflict) {
		return tasks.ErrUserAssigned
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Store) RemoveTaskUser(ctx context.Context, taskID int64, userID string) error {
	res := s.db.WithContext(ctx).
		Where("task_id = ? AND user_id = ?", taskID, userID).
		Delete(&taskUserRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tasks.ErrUserNotAssigned
	}
	return nil
}
