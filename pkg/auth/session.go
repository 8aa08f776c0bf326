package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrMissingName is returned by SignIn when neither name nor email is given.
var ErrMissingName = errors.New("name or email required")

// Session is a Provider for one signed-in user at a time, backed by a Store.
type Session struct {
	users Store

	mu        sync.Mutex
	user      *User
	listeners map[int]func(*User)
	next      int
}

// NewSession creates a signed-out Session.
func NewSession(users Store) *Session {
	return &Session{
		users:     users,
		listeners: make(map[int]func(*User)),
	}
}

// CurrentUser returns the signed-in user, or nil.
func (s *Session) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

// SignIn registers (or finds) the user and makes it current without a
// credential check, for processes that already own the store. A missing
// name defaults to the local part of the email.
func (s *Session) SignIn(ctx context.Context, name, email string) (*User, error) {
	name, email, err := identity(name, email)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Register(ctx, name, email)
	if err != nil {
		return nil, err
	}
	s.set(u)
	return u, nil
}

// Restore makes u current without consulting the store, for callers that
// already verified the user, e.g. from a signed token.
func (s *Session) Restore(u *User) {
	s.set(u)
}

// SignOut clears the current user.
func (s *Session) SignOut(ctx context.Context) error {
	s.set(nil)
	return nil
}

// OnAuthChanged registers fn and calls it once with the current user.
func (s *Session) OnAuthChanged(fn func(*User)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	s.mu.Unlock()

	fn(s.CurrentUser())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(u *User) {
	s.mu.Lock()
	if u != nil {
		cp := *u
		u = &cp
	}
	s.user = u
	fns := make([]func(*User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(s.CurrentUser())
	}
}
