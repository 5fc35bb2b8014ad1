package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskgate.dev/internal/auth"
)

// Task states.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
)

const maxTitleLength = 100

var (
	// ErrTaskNotFound matches auth.ErrNotFound so it maps to 404.
	ErrTaskNotFound = fmt.Errorf("task %w", auth.ErrNotFound)
	// ErrUserAssigned matches auth.ErrConflict so it maps to 409.
	ErrUserAssigned = fmt.Errorf("user already assigned to task: %w", auth.ErrConflict)
	// ErrUserNotAssigned matches auth.ErrNotAssigned so it maps to 404.
	ErrUserNotAssigned = fmt.Errorf("user not assigned to task: %w", auth.ErrNotAssigned)
)

// Member is the public view of a user attached to a task.
type Member struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Age       int    `json:"age"`
}

// Task is a unit of work shared by one or more users.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       string     `json:"state"`
	Users       []Member   `json:"users"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// HasUser reports whether userID is attached to t.
func (t Task) HasUser(userID string) bool {
	for _, u := range t.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// NewTask is the input of Create.
type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	UserID      string `json:"user_id"`
}

// Store persists tasks and their user links. Missing tasks yield
// ErrTaskNotFound.
type Store interface {
	ListTasks(ctx context.Context) ([]Task, error)
	FindTask(ctx context.Context, id int64) (Task, error)
	// CreateTask inserts t and links ownerID in one transaction.
	CreateTask(ctx context.Context, t Task, ownerID string) (Task, error)
	UpdateTaskState(ctx context.Context, id int64, state string, at time.Time) (Task, error)
	AddTaskUser(ctx context.Context, taskID int64, userID string) error
	RemoveTaskUser(ctx context.Context, taskID int64, userID string) error
}

// IdentityLookup resolves users referenced by tasks.
type IdentityLookup interface {
	FindIdentityByID(ctx context.Context, id string) (auth.Identity, error)
}

// Service implements task operations on top of Store.
type Service struct {
	store Store
	users IdentityLookup
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, users IdentityLookup) (*Service, error) {
	if store == nil || users == nil {
		return nil, errors.New("tasks: store and identity lookup are required")
	}
	return &Service{store: store, users: users, now: time.Now}, nil
}

func ValidState(s string) bool {
	switch s {
	case StatePending, StateInProgress, StateCompleted:
		return true
	}
	return false
}

func (s *Service) List(ctx context.Context) ([]Task, error) {
	list, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Task, error) {
	t, err := s.store.FindTask(ctx, id)
	if err != nil {
		return Task{}, classify(err)
	}
	return t, nil
}

// Create validates in and stores a task owned by in.UserID.
func (s *Service) Create(ctx context.Context, in NewTask) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.State = strings.TrimSpace(in.State)
	if in.Title == "" || len(in.Title) > maxTitleLength {
		return Task{}, fmt.Errorf("%w: title must be 1-%d characters", auth.ErrInvalidInput, maxTitleLength)
	}
	if in.State == "" {
		in.State = StatePending
	}
	if !ValidState(in.State) {
		return Task{}, fmt.Errorf("%w: unknown state %q", auth.ErrInvalidInput, in.State)
	}
	if _, err := s.activeUser(ctx, in.UserID); err != nil {
		return Task{}, err
	}
	t, err := s.store.CreateTask(ctx, Task{
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		State:       in.State,
		CreatedAt:   s.now().UTC(),
	}, strings.TrimSpace(in.UserID))
	if err != nil {
		return Task{}, classify(err)
	}
	return t, nil
}

func (s *Service) UpdateState(ctx context.Context, id int64, state string) (Task, error) {
	state = strings.TrimSpace(state)
	if !ValidState(state) {
		return Task{}, fmt.Errorf("%w: unknown state %q", auth.ErrInvalidInput, state)
	}
	t, err := s.store.UpdateTaskState(ctx, id, state, s.now().UTC())
	if err != nil {
		return Task{}, classify(err)
	}
	return t, nil
}

// Assign attaches an active user to a task.
func (s *Service) Assign(ctx context.Context, taskID int64, userID string) (Task, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return Task{}, err
	}
	userID = strings.TrimSpace(userID)
	if t.HasUser(userID) {
		return Task{}, ErrUserAssigned
	}
	if err := s.store.AddTaskUser(ctx, taskID, userID); err != nil {
		return Task{}, classify(err)
	}
	return s.Get(ctx, taskID)
}

// Unassign detaches a user from a task.
func (s *Service) Unassign(ctx context.Context, taskID int64, userID string) (Task, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return Task{}, err
	}
	userID = strings.TrimSpace(userID)
	if !t.HasUser(userID) {
		return Task{}, ErrUserNotAssigned
	}
	if err := s.store.RemoveTaskUser(ctx, taskID, userID); err != nil {
		return Task{}, classify(err)
	}
	return s.Get(ctx, taskID)
}

func (s *Service) activeUser(ctx context.Context, id string) (auth.Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Identity{}, fmt.Errorf("%w: user_id is required", auth.ErrInvalidInput)
	}
	identity, err := s.users.FindIdentityByID(ctx, id)
	if err != nil {
		return auth.Identity{}, classify(err)
	}
	if identity.Deleted() {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	return identity, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrIdentityNotFound),
		errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrNotAssigned),
		errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrStoreUnavailable):
		return err
	}
	return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
}
