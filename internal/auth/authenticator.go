package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssuedToken is the result of a successful login.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role,omitempty"`
}

// Authenticator exchanges credentials for access tokens.
type Authenticator struct {
	store            Store
	hasher           PasswordHasher
	tokens           *TokenService
	authz            *Authorizer
	embedPermissions bool
	dummyHash        string
}

// NewAuthenticator wires the login flow. When embedPermissions is set the
// issued token carries a snapshot of the role's permissions.
func NewAuthenticator(store Store, hasher PasswordHasher, tokens *TokenService, authz *Authorizer, embedPermissions bool) (*Authenticator, error) {
	if store == nil || hasher == nil || tokens == nil || authz == nil {
		return nil, errors.New("auth: authenticator dependencies are required")
	}
	dummy, err := hasher.Hash("taskgate-timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Authenticator{
		store:            store,
		hasher:           hasher,
		tokens:           tokens,
		authz:            authz,
		embedPermissions: embedPermissions,
		dummyHash:        dummy,
	}, nil
}

// Login verifies email and password and mints a token. Unknown emails,
// deleted identities and wrong passwords all return ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, email, password string) (IssuedToken, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return IssuedToken{}, ErrInvalidCredentials
	}
	identity, err := a.store.FindIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) || errors.Is(err, ErrNotFound) {
			a.hasher.Verify(password, a.dummyHash)
			return IssuedToken{}, ErrInvalidCredentials
		}
		return IssuedToken{}, storeError(err)
	}
	if !a.hasher.Verify(password, identity.PasswordHash) || identity.Deleted() {
		return IssuedToken{}, ErrInvalidCredentials
	}
	return a.IssueFor(ctx, identity)
}

// IssueFor mints a token for an already authenticated identity.
func (a *Authenticator) IssueFor(ctx context.Context, identity Identity) (IssuedToken, error) {
	claims := Claims{Email: identity.Email}
	claims.Subject = identity.ID

	role, hasRole, err := a.authz.CurrentRole(ctx, identity.ID)
	if err != nil {
		return IssuedToken{}, err
	}
	if hasRole {
		claims.Roles = []string{role.Name}
		if a.embedPermissions {
			perms, err := a.store.FindPermissionsByRole(ctx, role.ID)
			if err != nil {
				return IssuedToken{}, storeError(err)
			}
			claims.Permissions = permissionKeys(perms)
		}
	}

	token, exp, err := a.tokens.Issue(claims, 0)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   exp,
		UserID:      identity.ID,
		Role:        role.Name,
	}, nil
}

func permissionKeys(perms []Permission) []string {
	if len(perms) == 0 {
		return nil
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	sort.Strings(keys)
	return keys
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
