package httpapi

import (
	"net/http"

	"taskgate.dev/internal/audit"
	"taskgate.dev/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Age       int    `json:"age"`
	Password  string `json:"password"`
}

type insertUserRequest struct {
	registerRequest
	RoleName string `json:"role_name"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Age       *int    `json:"age"`
	Password  *string `json:"password"`
}

type assignRoleRequest struct {
	RoleName string `json:"role_name"`
}

type userResponse struct {
	auth.Identity
	Role string `json:"role,omitempty"`
}

// simpleUser is the trimmed shape used by selectors.
type simpleUser struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	issued, err := a.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"email":  req.Email,
			"remote": clientIP(r),
		})
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id":    issued.UserID,
		"role":       issued.Role,
		"expires_at": issued.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, issued)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.createUser(w, r, req.identity(""), "user.created")
}

// handleInsertUser is the privileged variant of registration: the caller may
// pick the initial role.
func (a *API) handleInsertUser(w http.ResponseWriter, r *http.Request) {
	var req insertUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.createUser(w, r, req.identity(req.RoleName), "user.inserted")
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request, in auth.NewIdentity, event string) {
	identity, err := a.dir.Register(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"id":    identity.ID,
		"email": identity.Email,
		"role":  in.Role,
	})
	w.Header().Set("Location", "/users/"+identity.ID)
	writeJSON(w, http.StatusCreated, a.withRole(r, identity))
}

func (req registerRequest) identity(role string) auth.NewIdentity {
	return auth.NewIdentity{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Age:       req.Age,
		Password:  req.Password,
		Role:      role,
	}
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	a.listUsers(w, r, auth.ListActive)
}

func (a *API) handleListDeletedUsers(w http.ResponseWriter, r *http.Request) {
	a.listUsers(w, r, auth.ListDeleted)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request, scope auth.ListScope) {
	list, err := a.dir.List(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list, "count": len(list)})
}

func (a *API) handleListUsersSimple(w http.ResponseWriter, r *http.Request) {
	list, err := a.dir.List(r.Context(), auth.ListActive)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]simpleUser, 0, len(list))
	for _, u := range list {
		out = append(out, simpleUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	identity, err := a.dir.Get(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.withRole(r, identity))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	identity, err := a.dir.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.withRole(r, identity))
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	identity, err := a.dir.Update(r.Context(), r.PathValue("id"), auth.IdentityUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Age:       req.Age,
		Password:  req.Password,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.updated", map[string]any{
		"id":               identity.ID,
		"password_changed": req.Password != nil,
	})
	writeJSON(w, http.StatusOK, a.withRole(r, identity))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	identity, err := a.dir.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.deleted", map[string]any{"id": identity.ID})
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleRestoreUser(w http.ResponseWriter, r *http.Request) {
	identity, err := a.dir.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.restored", map[string]any{"id": identity.ID})
	writeJSON(w, http.StatusOK, a.withRole(r, identity))
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !readJSON(w, r, &req) {
		return
	}
	assignment, err := a.authz.AssignRole(r.Context(), r.PathValue("id"), req.RoleName)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.assigned", map[string]any{
		"user_id": assignment.IdentityID,
		"role":    assignment.RoleName,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, roleName := r.PathValue("id"), r.PathValue("role_name")
	if err := a.authz.RemoveRole(r.Context(), userID, roleName); err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.removed", map[string]any{
		"user_id": userID,
		"role":    roleName,
	})
	w.WriteHeader(http.StatusNoContent)
}

// withRole decorates identity with its current role name. A lookup failure
// only drops the role from the response.
func (a *API) withRole(r *http.Request, identity auth.Identity) userResponse {
	resp := userResponse{Identity: identity}
	if role, ok, err := a.authz.CurrentRole(r.Context(), identity.ID); err == nil && ok {
		resp.Role = role.Name
	}
	return resp
}
