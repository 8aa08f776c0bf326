package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calm-todo/pkg/docstore"
)

const usersCollection = "users"

// DocStore keeps users as documents, for backends without a users table.
type DocStore struct {
	docs docstore.Store
	mu   sync.Mutex
}

// NewDocStore creates a DocStore over docs.
func NewDocStore(docs docstore.Store) *DocStore {
	return &DocStore{docs: docs}
}

// NewMemStore creates a DocStore over a fresh in-memory document store.
func NewMemStore() *DocStore {
	return NewDocStore(docstore.NewMemStore())
}

// EnsureTable is a no-op; the document store owns its table.
func (s *DocStore) EnsureTable(ctx context.Context) error { return nil }

// Register creates or returns an existing user.
func (s *DocStore) Register(ctx context.Context, name, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("register user %s: %w", name, err)
	}
	if u := match(users, name, email); u != nil {
		return u, nil
	}

	now := time.Now().Truncate(time.Microsecond)
	id, err := s.docs.Create(ctx, usersCollection, map[string]any{
		"name":      name,
		"email":     email,
		"createdAt": now,
	})
	if err != nil {
		return nil, fmt.Errorf("register user %s: %w", name, err)
	}
	return &User{ID: id, Name: name, Email: email, CreatedAt: now}, nil
}

// Lookup finds a user without creating one.
func (s *DocStore) Lookup(ctx context.Context, name, email string) (*User, error) {
	users, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", name, err)
	}
	if u := match(users, name, email); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("lookup user %s: %w", name, ErrUnknownUser)
}

func match(users []User, name, email string) *User {
	for _, u := range users {
		if (email != "" && u.Email == email) || (email == "" && u.Email == "" && u.Name == name) {
			return &u
		}
	}
	return nil
}

// PasswordHash returns the user's stored hash.
func (s *DocStore) PasswordHash(ctx context.Context, id string) ([]byte, error) {
	doc, err := s.doc(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("password hash %s: %w", id, err)
	}
	h, _ := doc.Fields["passwordHash"].(string)
	if h == "" {
		return nil, nil
	}
	return []byte(h), nil
}

// SetPasswordHash stores the user's hash.
func (s *DocStore) SetPasswordHash(ctx context.Context, id string, hash []byte, replace bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.doc(ctx, id)
	if err != nil {
		return false, fmt.Errorf("set password %s: %w", id, err)
	}
	if h, _ := doc.Fields["passwordHash"].(string); h != "" && !replace {
		return false, nil
	}
	if err := s.docs.Update(ctx, doc.Path, map[string]any{"passwordHash": string(hash)}); err != nil {
		return false, fmt.Errorf("set password %s: %w", id, err)
	}
	return true, nil
}

func (s *DocStore) doc(ctx context.Context, id string) (docstore.Document, error) {
	docs, err := s.docs.List(ctx, usersCollection, docstore.Order{})
	if err != nil {
		return docstore.Document{}, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d, nil
		}
	}
	return docstore.Document{}, ErrUnknownUser
}

// Get returns a user by ID.
func (s *DocStore) Get(ctx context.Context, id string) (*User, error) {
	users, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	for _, u := range users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("get user %s: %w", id, ErrUnknownUser)
}

func (s *DocStore) list(ctx context.Context) ([]User, error) {
	docs, err := s.docs.List(ctx, usersCollection, docstore.Order{})
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(docs))
	for _, d := range docs {
		var u User
		if err := docstore.Decode(d, &u); err != nil {
			return nil, err
		}
		u.ID = d.ID
		users = append(users, u)
	}
	return users, nil
}
