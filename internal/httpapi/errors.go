package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"taskgate.dev/internal/audit"
	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/obs"
)

type errorClass struct {
	err    error
	status int
	code   string
	// msg replaces the error text when set, so internals never leak.
	msg string
}

// errorClasses is ordered: the first match wins.
var errorClasses = []errorClass{
	{auth.ErrMissingCredentials, http.StatusUnauthorized, "missing_credentials", "missing credentials"},
	{auth.ErrMalformedCredentials, http.StatusUnauthorized, "malformed_credentials", "malformed credentials"},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token expired"},
	{auth.ErrTokenInvalid, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{auth.ErrPermissionDenied, http.StatusForbidden, "permission_denied", "permission denied"},
	{auth.ErrStoreUnavailable, http.StatusInternalServerError, "store_unavailable", "internal error"},
	{auth.ErrRoleNotFound, http.StatusNotFound, "role_not_found", ""},
	{auth.ErrIdentityNotFound, http.StatusNotFound, "user_not_found", ""},
	{auth.ErrNotAssigned, http.StatusNotFound, "not_assigned", ""},
	{auth.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{auth.ErrAlreadyAssigned, http.StatusBadRequest, "already_assigned", ""},
	{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input", ""},
	{auth.ErrConflict, http.StatusConflict, "conflict", ""},
}

// classify maps err to an HTTP status, a stable code and a client-safe message.
func classify(err error) (int, string, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			msg := c.msg
			if msg == "" {
				msg = strings.ReplaceAll(err.Error(), "auth: ", "")
			}
			return c.status, c.code, msg
		}
	}
	return http.StatusInternalServerError, "internal", "internal error"
}

// writeDomainError renders err with the status its class maps to. 401
// responses carry a Bearer challenge.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", bearerChallenge(code, msg))
	case http.StatusInternalServerError:
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeErrorCode(w, r, status, code, msg)
}

func bearerChallenge(code, msg string) string {
	switch code {
	case "token_expired", "invalid_token":
		return `Bearer error="invalid_token", error_description="` + msg + `"`
	case "malformed_credentials":
		return `Bearer error="invalid_request"`
	}
	return "Bearer"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, strings.ReplaceAll(strings.ToLower(http.StatusText(code)), " ", "_"), msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// decodeJSON reads exactly one JSON object. The body size is bounded by the
// MaxBodyBytes middleware.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// readJSON decodes the body into dst and answers 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}
