package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/obs"
)

// authorize guards a route registered with a method pattern. It asks the
// authorizer whether the caller's role holds (matched pattern, method).
func (a *API) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			obs.ObserveAuthDecision("authz", "unauthenticated")
			writeDomainError(w, r, auth.ErrMissingCredentials)
			return
		}

		ctx := r.Context()
		role, hasRole := claims.Role()
		if a.revalidate {
			identity, err := a.dir.Get(ctx, claims.UserID())
			if err != nil {
				if errors.Is(err, auth.ErrIdentityNotFound) {
					err = fmt.Errorf("%w: identity is no longer active", auth.ErrTokenInvalid)
				}
				obs.ObserveAuthDecision("authz", outcome(err))
				writeDomainError(w, r, err)
				return
			}
			current, held, err := a.authz.CurrentRole(ctx, identity.ID)
			if err != nil {
				obs.ObserveAuthDecision("authz", outcome(err))
				writeDomainError(w, r, err)
				return
			}
			role, hasRole = current.Name, held
			ctx = auth.ContextWithIdentity(ctx, identity)
		}
		if !hasRole {
			obs.ObserveAuthDecision("authz", "denied")
			writeDomainError(w, r, auth.ErrPermissionDenied)
			return
		}

		route := routeOf(r.Pattern)
		allowed, err := a.authz.HasPermission(ctx, role, route, r.Method)
		if err != nil {
			obs.ObserveAuthDecision("authz", outcome(err))
			writeDomainError(w, r, err)
			return
		}
		if !allowed {
			obs.ObserveAuthDecision("authz", "denied")
			writeDomainError(w, r, fmt.Errorf("%w: role %q may not %s %s", auth.ErrPermissionDenied, role, r.Method, route))
			return
		}
		obs.ObserveAuthDecision("authz", "allowed")
		next(w, r.WithContext(ctx))
	}
}

// routeOf strips the method and host from a ServeMux pattern:
// "GET /users/{id}" becomes "/users/{id}".
func routeOf(pattern string) string {
	if _, rest, ok := strings.Cut(pattern, " "); ok {
		pattern = strings.TrimSpace(rest)
	}
	if i := strings.IndexByte(pattern, '/'); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}
