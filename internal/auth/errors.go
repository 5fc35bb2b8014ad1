package auth

import (
	"errors"
	"fmt"
)

// Authentication failures. All of them surface as 401.
var (
	ErrMissingCredentials   = errors.New("auth: missing credentials")
	ErrMalformedCredentials = errors.New("auth: malformed credentials")
	ErrTokenExpired         = errors.New("auth: token expired")
	ErrTokenInvalid         = errors.New("auth: invalid token")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
)

// Authorization and role management failures.
var (
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrRoleNotFound     = errors.New("auth: role not found")
	ErrIdentityNotFound = errors.New("auth: identity not found")
	ErrAlreadyAssigned  = errors.New("auth: role already assigned")
	ErrNotAssigned      = errors.New("auth: role not assigned")
)

// Generic persistence and validation failures.
var (
	ErrNotFound         = errors.New("auth: not found")
	ErrConflict         = errors.New("auth: resource conflict")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)

var domainErrors = []error{
	ErrMissingCredentials,
	ErrMalformedCredentials,
	ErrTokenExpired,
	ErrTokenInvalid,
	ErrInvalidCredentials,
	ErrPermissionDenied,
	ErrRoleNotFound,
	ErrIdentityNotFound,
	ErrAlreadyAssigned,
	ErrNotAssigned,
	ErrNotFound,
	ErrConflict,
	ErrInvalidInput,
	ErrStoreUnavailable,
}

// storeError classifies an error returned by a Store. Domain sentinels pass
// through untouched; anything else is reported as ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
