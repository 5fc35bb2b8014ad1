package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/obs"
	"taskgate.dev/internal/tasks"
)

const serviceName = "taskgate"

// Pinger is implemented by the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the store behind the API.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Tokens        *auth.TokenService
	Authenticator *auth.Authenticator
	Authorizer    *auth.Authorizer
	Directory     *auth.Directory
	Tasks         *tasks.Service
	Ready         ReadyProbe
}

// Options tune the transport.
type Options struct {
	Version            string
	Policy             auth.RoutePolicy
	RevalidateIdentity bool
	RateBurst          int
	RatePerSec         int
	MaxBodyBytes       int64
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies     []string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	started    time.Time

	tokens *auth.TokenService
	login  *auth.Authenticator
	authz  *auth.Authorizer
	dir    *auth.Directory
	tasks  *tasks.Service
	policy auth.RoutePolicy

	revalidate   bool
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	trusted      []netip.Prefix
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Tokens == nil || deps.Authenticator == nil || deps.Authorizer == nil || deps.Directory == nil || deps.Tasks == nil {
		return nil, errors.New("httpapi: all services are required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   deps.Ready,
		version:      opts.Version,
		started:      time.Now().UTC(),
		tokens:       deps.Tokens,
		login:        deps.Authenticator,
		authz:        deps.Authorizer,
		dir:          deps.Directory,
		tasks:        deps.Tasks,
		policy:       opts.Policy,
		revalidate:   opts.RevalidateIdentity,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		trusted:      trusted,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	// system
	a.mux.HandleFunc("GET /{$}", a.Root)
	a.mux.HandleFunc("GET /health", a.Health)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// credentials
	a.mux.HandleFunc("POST /users/login", a.handleLogin)
	a.mux.HandleFunc("POST /users", a.handleRegister)

	// users
	a.mux.HandleFunc("GET /users", a.authorize(a.handleListUsers))
	a.mux.HandleFunc("GET /users/simple", a.authorize(a.handleListUsersSimple))
	a.mux.HandleFunc("GET /users/deleted", a.authorize(a.handleListDeletedUsers))
	a.mux.HandleFunc("POST /users/insert", a.authorize(a.handleInsertUser))
	a.mux.HandleFunc("GET /users/me", a.authorize(a.handleMe))
	a.mux.HandleFunc("GET /users/{id}", a.authorize(a.handleGetUser))
	a.mux.HandleFunc("PATCH /users/{id}", a.authorize(a.handleUpdateUser))
	a.mux.HandleFunc("DELETE /users/{id}", a.authorize(a.handleDeleteUser))
	a.mux.HandleFunc("PATCH /users/{id}/restore", a.authorize(a.handleRestoreUser))
	a.mux.HandleFunc("POST /users/{id}/roles", a.authorize(a.handleAssignRole))
	a.mux.HandleFunc("DELETE /users/{id}/roles/{role_name}", a.authorize(a.handleRemoveRole))

	// roles and permissions
	a.mux.HandleFunc("GET /roles", a.authorize(a.handleListRoles))
	a.mux.HandleFunc("POST /roles", a.authorize(a.handleCreateRole))
	a.mux.HandleFunc("GET /roles/{name}/permissions", a.authorize(a.handleRolePermissions))
	a.mux.HandleFunc("POST /roles/{name}/permissions", a.authorize(a.handleGrantPermission))
	a.mux.HandleFunc("DELETE /roles/{name}/permissions/{permission}", a.authorize(a.handleRevokePermission))
	a.mux.HandleFunc("GET /permissions", a.authorize(a.handleListPermissions))
	a.mux.HandleFunc("POST /permissions", a.authorize(a.handleCreatePermission))

	// tasks
	a.mux.HandleFunc("GET /tasks", a.authorize(a.handleListTasks))
	a.mux.HandleFunc("POST /tasks", a.authorize(a.handleCreateTask))
	a.mux.HandleFunc("GET /tasks/{id}", a.authorize(a.handleGetTask))
	a.mux.HandleFunc("PATCH /tasks/{id}/state", a.authorize(a.handleUpdateTaskState))
	a.mux.HandleFunc("POST /tasks/{id}/assign", a.authorize(a.handleAssignTask))
	a.mux.HandleFunc("DELETE /tasks/{id}/assign/{user_id}", a.authorize(a.handleUnassignTask))
}

// Handler returns the mux wrapped in the middleware chain. The gate runs
// innermost so rejected requests are still logged, counted and tagged.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = Authenticate(a.policy, a.tokens)(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trusted)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": a.version,
		"message": "task and user API with role based access control",
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"uptime":  time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "store unavailable",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
