package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

var (
	// ErrBadCredentials is returned when the password does not match.
	ErrBadCredentials = errors.New("invalid email or password")
	// ErrNoPassword is returned for accounts created locally that never set
	// a password. They cannot sign in remotely until one is set.
	ErrNoPassword = errors.New("no password set for this account")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLen.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

// Authenticate checks a remote sign-in. An unknown identity is registered
// and claims the account with password. A known one must present the
// password it was claimed with.
func Authenticate(ctx context.Context, users Store, name, email, password string) (*User, error) {
	name, email, err := identity(name, email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}

	u, err := users.Lookup(ctx, name, email)
	switch {
	case errors.Is(err, ErrUnknownUser):
		u, err = users.Register(ctx, name, email)
		if err != nil {
			return nil, err
		}
		hash, err := hashPassword(password)
		if err != nil {
			return nil, err
		}
		claimed, err := users.SetPasswordHash(ctx, u.ID, hash, false)
		if err != nil {
			return nil, err
		}
		if claimed {
			return u, nil
		}
		// Someone registered the same identity first.
	case err != nil:
		return nil, err
	}

	hash, err := users.PasswordHash(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(hash) == 0 {
		return nil, ErrNoPassword
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// SetPassword replaces uid's password.
func SetPassword(ctx context.Context, users Store, uid, password string) error {
	if len(password) < MinPasswordLen {
		return ErrWeakPassword
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	ok, err := users.SetPasswordHash(ctx, uid, hash, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set password %s: %w", uid, ErrUnknownUser)
	}
	return nil
}

func hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// identity trims name and email and defaults the name to the email's
// local part.
func identity(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" && email == "" {
		return "", "", ErrMissingName
	}
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return name, email, nil
}
