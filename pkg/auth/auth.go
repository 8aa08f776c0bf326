package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownUser is returned when a user lookup finds nothing.
var ErrUnknownUser = errors.New("unknown user")

// User is an authenticated person. All of a user's data is partitioned by ID.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the contract for user persistence.
type Store interface {
	// Register creates or returns an existing user. Idempotent:
	// matches on email, or on name when no email is given.
	Register(ctx context.Context, name, email string) (*User, error)

	// Lookup finds a user the way Register matches one, or returns
	// ErrUnknownUser.
	Lookup(ctx context.Context, name, email string) (*User, error)

	// Get returns a user by ID.
	Get(ctx context.Context, id string) (*User, error)

	// PasswordHash returns the stored bcrypt hash, nil when none is set.
	PasswordHash(ctx context.Context, id string) ([]byte, error)

	// SetPasswordHash stores hash. Without replace it only fills an empty
	// slot. It reports whether the hash was written.
	SetPasswordHash(ctx context.Context, id string, hash []byte, replace bool) (bool, error)

	// EnsureTable creates the users table if it doesn't exist.
	EnsureTable(ctx context.Context) error
}

// Provider tracks who is signed in.
type Provider interface {
	// CurrentUser returns the signed-in user, or nil.
	CurrentUser() *User
	SignIn(ctx context.Context, name, email string) (*User, error)
	SignOut(ctx context.Context) error
	// OnAuthChanged calls fn with the current user now and after every
	// sign-in or sign-out. The returned func removes fn.
	OnAuthChanged(fn func(*User)) func()
}
