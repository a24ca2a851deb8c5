package domain

import "errors"

// Sentinel errors for the directory and its handlers. Handlers translate
// these into user-facing replies at the boundary; they never reach the
// Telegram transport as failures.
var (
	// ErrNotFound means no record matches the requested key.
	ErrNotFound = errors.New("user not found")
	// ErrConflict means a uniqueness constraint on tg_user_id or email was hit.
	ErrConflict = errors.New("conflicting user record")
	// ErrValidation means the input was malformed before any store call.
	ErrValidation = errors.New("invalid input")
	// ErrUnauthorized means a non-admin invoked an admin operation.
	ErrUnauthorized = errors.New("not authorized")
)
