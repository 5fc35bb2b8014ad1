package httpapi

import (
	"net/http"

	"taskgate.dev/internal/audit"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Route       string `json:"route"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.dir.ListRoles(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !readJSON(w, r, &req) {
		return
	}
	role, err := a.dir.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{
		"id":   role.ID,
		"name": role.Name,
	})
	w.Header().Set("Location", "/roles/"+role.Name+"/permissions")
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	a.writeRolePermissions(w, r, r.PathValue("name"), http.StatusOK)
}

func (a *API) writeRolePermissions(w http.ResponseWriter, r *http.Request, role string, status int) {
	perms, err := a.dir.RolePermissions(r.Context(), role)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, status, map[string]any{"role": role, "permissions": perms})
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if !readJSON(w, r, &req) {
		return
	}
	role := r.PathValue("name")
	if err := a.dir.GrantPermission(r.Context(), role, req.Permission); err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.granted", map[string]any{
		"role":       role,
		"permission": req.Permission,
	})
	a.writeRolePermissions(w, r, role, http.StatusOK)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	role, perm := r.PathValue("name"), r.PathValue("permission")
	if err := a.dir.RevokePermission(r.Context(), role, perm); err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.revoked", map[string]any{
		"role":       role,
		"permission": perm,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.dir.ListPermissions(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !readJSON(w, r, &req) {
		return
	}
	perm, err := a.dir.CreatePermission(r.Context(), req.Name, req.Route, req.Method, req.Description)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.created", map[string]any{
		"id":     perm.ID,
		"name":   perm.Name,
		"route":  perm.Route,
		"method": perm.Method,
	})
	writeJSON(w, http.StatusCreated, perm)
}
