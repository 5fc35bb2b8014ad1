package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/tasks"
)

const taskColumns = `id, title, coalesce(description, ''), state, created_at, updated_at`

func scanTask(row scanner) (tasks.Task, error) {
	var (
		t       tasks.Task
		updated sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.State, &t.CreatedAt, &updated); err != nil {
		return tasks.Task{}, err
	}
	t.UpdatedAt = nullTime(updated)
	t.Users = []tasks.Member{}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+taskColumns+` from tasks where deleted_at is null order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result []tasks.Task
		index  = map[int64]int{}
	)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		index[t.ID] = len(result)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return []tasks.Task{}, nil
	}

	members, err := s.db.QueryContext(ctx, `
		select tu.task_id, u.id, u.first_name, u.last_name, u.email, u.age
		from task_users tu
		join users u on u.id = tu.user_id
		join tasks t on t.id = tu.task_id
		where t.deleted_at is null
		order by tu.task_id, u.email
	`)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		var (
			taskID int64
			m      tasks.Member
		)
		if err := members.Scan(&taskID, &m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Age); err != nil {
			return nil, err
		}
		if i, ok := index[taskID]; ok {
			result[i].Users = append(result[i].Users, m)
		}
	}
	if err := members.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) FindTask(ctx context.Context, id int64) (tasks.Task, error) {
	if s.db == nil {
		return tasks.Task{}, errNoDB
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `select `+taskColumns+` from tasks where id = $1 and deleted_at is null`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	if err != nil {
		return tasks.Task{}, err
	}
	if err := s.loadMembers(ctx, &t); err != nil {
		return tasks.Task{}, err
	}
	return t, nil
}

func (s *Store) loadMembers(ctx context.Context, t *tasks.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.first_name, u.last_name, u.email, u.age
		from task_users tu
		join users u on u.id = tu.user_id
		where tu.task_id = $1
		order by u.email
	`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m tasks.Member
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Age); err != nil {
			return err
		}
		t.Users = append(t.Users, m)
	}
	return rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t tasks.Task, ownerID string) (tasks.Task, error) {
	if s.db == nil {
		return tasks.Task{}, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tasks.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `
		insert into tasks (title, description, state, created_at)
		values ($1, nullif($2, ''), $3, $4)
		returning id
	`, t.Title, t.Description, t.State, t.CreatedAt).Scan(&id); err != nil {
		return tasks.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into task_users (task_id, user_id) values ($1, $2)
	`, id, ownerID); err != nil {
		return tasks.Task{}, constraintError(err, auth.ErrIdentityNotFound)
	}
	if err := tx.Commit(); err != nil {
		return tasks.Task{}, err
	}
	return s.FindTask(ctx, id)
}

func (s *Store) UpdateTaskState(ctx context.Context, id int64, state string, at time.Time) (tasks.Task, error) {
	if s.db == nil {
		return tasks.Task{}, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update tasks set state = $1, updated_at = $2 where id = $3 and deleted_at is null
	`, state, at, id)
	if err != nil {
		return tasks.Task{}, err
	}
	if err := affected(res, tasks.ErrTaskNotFound); err != nil {
		return tasks.Task{}, err
	}
	return s.FindTask(ctx, id)
}

func (s *Store) AddTaskUser(ctx context.Context, taskID int64, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `insert into task_users (task_id, user_id) values ($1, $2)`, taskID, userID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return tasks.ErrUserAssigned
		}
		return constraintError(err, tasks.ErrTaskNotFound)
	}
	return nil
}

func (s *Store) RemoveTaskUser(ctx context.Context, taskID int64, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from task_users where task_id = $1 and user_id = $2`, taskID, userID)
	if err != nil {
		return err
	}
	return affected(res, tasks.ErrUserNotAssigned)
}
