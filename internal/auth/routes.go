package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// RoutePolicy classifies requests as public. It is static configuration and
// is evaluated before any token work.
type RoutePolicy struct {
	// PublicRoutes are reachable with any method.
	PublicRoutes []string
	// PublicMethods maps a path to the methods that are public on it.
	PublicMethods map[string][]string
	// PublicPrefixes match whole path segments: "/docs" covers "/docs" and
	// "/docs/x" but not "/docsx".
	PublicPrefixes []string
}

// Validate rejects prefixes broad enough to expose protected paths.
func (p RoutePolicy) Validate() error {
	for _, prefix := range p.PublicPrefixes {
		trimmed := strings.TrimRight(strings.TrimSpace(prefix), "/")
		if trimmed == "" {
			return fmt.Errorf("%w: public prefix %q is too broad", ErrInvalidInput, prefix)
		}
		if !strings.HasPrefix(trimmed, "/") {
			return fmt.Errorf("%w: public prefix %q must start with /", ErrInvalidInput, prefix)
		}
	}
	for path, methods := range p.PublicMethods {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: public path %q must start with /", ErrInvalidInput, path)
		}
		for _, m := range methods {
			if !isHTTPMethod(m) {
				return fmt.Errorf("%w: unknown method %q for %s", ErrInvalidInput, m, path)
			}
		}
	}
	return nil
}

// IsPublic reports whether (path, method) bypasses authentication.
func (p RoutePolicy) IsPublic(path, method string) bool {
	for _, route := range p.PublicRoutes {
		if path == route {
			return true
		}
	}
	if methods, ok := p.PublicMethods[path]; ok {
		for _, m := range methods {
			if strings.EqualFold(m, method) {
				return true
			}
		}
	}
	for _, prefix := range p.PublicPrefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func isHTTPMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}
