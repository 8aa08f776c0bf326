package aggregate

import "errors"

var (
	// ErrValidation is returned when required input is missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a mutation names an unknown task or project.
	ErrNotFound = errors.New("not found")
	// ErrAuth is returned when a mutation runs with no signed-in user.
	ErrAuth = errors.New("user not authenticated")
	// ErrSync wraps failures reported by a collection subscription.
	ErrSync = errors.New("sync failed")
)
