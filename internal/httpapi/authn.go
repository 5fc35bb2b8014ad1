package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/obs"
)

const authHeader = "Authorization"

// Authenticate is the request gate. Public requests pass untouched; every
// other request must carry a valid bearer token whose claims are attached to
// the context. The gate never consults the store.
func Authenticate(policy auth.RoutePolicy, tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy.IsPublic(r.URL.Path, r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				obs.ObserveAuthDecision("authn", outcome(err))
				writeDomainError(w, r, err)
				return
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				obs.ObserveAuthDecision("authn", outcome(err))
				writeDomainError(w, r, err)
				return
			}
			obs.ObserveAuthDecision("authn", "allowed")
			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	}
}

// extractBearerToken expects exactly "Bearer <token>", scheme case-insensitive.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingCredentials
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected \"Bearer <token>\"", auth.ErrMalformedCredentials)
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: unsupported scheme %q", auth.ErrMalformedCredentials, parts[0])
	}
	return parts[1], nil
}

func outcome(err error) string {
	_, code, _ := classify(err)
	return code
}
