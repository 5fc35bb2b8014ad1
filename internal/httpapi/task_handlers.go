package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"taskgate.dev/internal/audit"
	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/tasks"
)

type taskStateRequest struct {
	State string `json:"state"`
}

type taskUserRequest struct {
	UserID string `json:"user_id"`
}

func taskID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid task id %q", auth.ErrInvalidInput, raw)
	}
	return id, nil
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.tasks.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list, "count": len(list)})
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	t, err := a.tasks.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.NewTask
	if !readJSON(w, r, &req) {
		return
	}
	t, err := a.tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "task.created", map[string]any{
		"id":    t.ID,
		"title": t.Title,
		"owner": req.UserID,
	})
	w.Header().Set("Location", "/tasks/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleUpdateTaskState(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req taskStateRequest
	if !readJSON(w, r, &req) {
		return
	}
	t, err := a.tasks.UpdateState(r.Context(), id, req.State)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "task.state_changed", map[string]any{
		"id":    t.ID,
		"state": t.State,
	})
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req taskUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	t, err := a.tasks.Assign(r.Context(), id, req.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "task.user_assigned", map[string]any{
		"id":      t.ID,
		"user_id": req.UserID,
	})
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUnassignTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	userID := r.PathValue("user_id")
	t, err := a.tasks.Unassign(r.Context(), id, userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "task.user_unassigned", map[string]any{
		"id":      t.ID,
		"user_id": userID,
	})
	writeJSON(w, http.StatusOK, t)
}
