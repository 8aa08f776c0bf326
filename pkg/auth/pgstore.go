package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed user store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the users table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `ALTER TABLE users ADD COLUMN IF NOT EXISTS password_hash TEXT`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users(email) WHERE email IS NOT NULL`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS users_name_anon_idx ON users(name) WHERE email IS NULL`)
	return err
}

func (s *PgStore) lookup(ctx context.Context, name, email string) (*User, error) {
	if email != "" {
		return s.scanOne(ctx, `SELECT id, name, email, created_at FROM users WHERE email = $1`, email)
	}
	return s.scanOne(ctx, `SELECT id, name, email, created_at FROM users WHERE name = $1 AND email IS NULL`, name)
}

// Lookup finds a user without creating one.
func (s *PgStore) Lookup(ctx context.Context, name, email string) (*User, error) {
	u, err := s.lookup(ctx, name, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup user %s: %w", name, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", name, err)
	}
	return u, nil
}

// Register creates or returns an existing user.
func (s *PgStore) Register(ctx context.Context, name, email string) (*User, error) {
	lookup := func() (*User, error) { return s.lookup(ctx, name, email) }

	if u, err := lookup(); err == nil {
		return u, nil
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		id, name, nilIfEmpty(email), now)
	if err != nil {
		return nil, fmt.Errorf("register user %s: %w", name, err)
	}

	// Re-fetch: a concurrent Register may have won the insert.
	u, err := lookup()
	if err != nil {
		return nil, fmt.Errorf("register user %s: re-fetch failed: %w", name, err)
	}
	return u, nil
}

// Get returns a user by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.scanOne(ctx, `SELECT id, name, email, created_at FROM users WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w", id, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// PasswordHash returns the user's stored hash.
func (s *PgStore) PasswordHash(ctx context.Context, id string) ([]byte, error) {
	var hash *string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("password hash %s: %w", id, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("password hash %s: %w", id, err)
	}
	if hash == nil || *hash == "" {
		return nil, nil
	}
	return []byte(*hash), nil
}

// SetPasswordHash stores the user's hash. The empty-slot check and the
// write are one statement.
func (s *PgStore) SetPasswordHash(ctx context.Context, id string, hash []byte, replace bool) (bool, error) {
	query := `UPDATE users SET password_hash = $2 WHERE id = $1 AND (password_hash IS NULL OR password_hash = '')`
	if replace {
		query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	}
	tag, err := s.pool.Exec(ctx, query, id, string(hash))
	if err != nil {
		return false, fmt.Errorf("set password %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) scanOne(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	var email *string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Name, &email, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
