package rephi

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the server rejects the request
	// token (401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the authenticated user lacks the
	// required role (403).
	ErrForbidden = errors.New("access denied")
	// ErrInvalidCredentials is returned by Login on a 401 for bad
	// email/password pairs.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound is returned when the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated,
	// such as registering an existing email or reusing a slug.
	ErrConflict = errors.New("conflict")
	// ErrNotAuthenticated is returned by operations that need a session
	// when the store holds none.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError carries the HTTP status and decoded body of a failed API
// call. It wraps the matching sentinel so errors.Is works.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field validation messages when the server
	// returns them.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 409, 422:
		return ErrConflict
	default:
		return nil
	}
}
