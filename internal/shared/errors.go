package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates bearer credential rejection.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the caller is authenticated but lacks access.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates the operation conflicts with current state.
	ErrConflict = errors.New("conflict")
)
