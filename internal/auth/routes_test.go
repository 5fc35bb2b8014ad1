package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRoutePolicyIsPublic(t *testing.T) {
	policy := RoutePolicy{
		PublicRoutes:   []string{"/", "/health", "/users/login"},
		PublicMethods:  map[string][]string{"/users": {"POST"}},
		PublicPrefixes: []string{"/docs/"},
	}
	cases := []struct {
		path, method string
		want         bool
	}{
		{"/", "GET", true},
		{"/health", "GET", true},
		{"/users/login", "POST", true},
		{"/users", "POST", true},
		{"/users", "post", true},
		{"/users", "GET", false},
		{"/users/1", "POST", false},
		{"/docs", "GET", true},
		{"/docs/openapi.json", "GET", true},
		{"/docsx", "GET", false},
		{"/tasks", "GET", false},
		{"/health/deep", "GET", false},
	}
	for _, tc := range cases {
		if got := policy.IsPublic(tc.path, tc.method); got != tc.want {
			t.Fatalf("IsPublic(%q, %q) = %v, want %v", tc.path, tc.method, got, tc.want)
		}
	}
}

func TestRoutePolicyValidate(t *testing.T) {
	bad := []RoutePolicy{
		{PublicPrefixes: []string{""}},
		{PublicPrefixes: []string{"/"}},
		{PublicPrefixes: []string{"docs"}},
		{PublicMethods: map[string][]string{"users": {"POST"}}},
		{PublicMethods: map[string][]string{"/users": {"FETCH"}}},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	ok := RoutePolicy{
		PublicRoutes:   []string{"/health"},
		PublicMethods:  map[string][]string{"/users": {"POST"}},
		PublicPrefixes: []string{"/docs"},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Fatalf("empty context should carry no claims")
	}
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatalf("empty context should carry no user id")
	}

	claims := subjectClaims("user-3", "employee")
	ctx = ContextWithClaims(ctx, &claims)
	if id, ok := UserIDFromContext(ctx); !ok || id != "user-3" {
		t.Fatalf("UserIDFromContext = %q, %v", id, ok)
	}
	if got, ok := ClaimsFromContext(ctx); !ok || got.Email != "user-3@example.com" {
		t.Fatalf("ClaimsFromContext = %+v, %v", got, ok)
	}

	ctx = ContextWithIdentity(ctx, Identity{ID: "user-3", Email: "x@example.com"})
	if identity, ok := IdentityFromContext(ctx); !ok || identity.Email != "x@example.com" {
		t.Fatalf("IdentityFromContext = %+v, %v", identity, ok)
	}
	if _, ok := ClaimsFromContext(ContextWithClaims(context.Background(), nil)); ok {
		t.Fatalf("nil claims should not be stored")
	}
}
