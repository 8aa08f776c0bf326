// Package db opens the configured storage backend.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"calm-todo/internal/config"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/docstore"
)

// Connect opens a pgx pool and waits for the server to answer.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= 30; attempt++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("ping database: %w", pingErr)
}

// Backend bundles the document and user stores of one driver.
type Backend struct {
	Docs   *docstore.Bus
	Users  auth.Store
	closer func()
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	if b.closer != nil {
		b.closer()
	}
}

// Open builds the backend named by cfg.Driver and ensures its tables.
// Without PostgreSQL, users are kept as documents next to their data.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*Backend, error) {
	var (
		docs   docstore.Store
		users  auth.Store
		closer func()
	)
	switch cfg.Driver {
	case "postgres":
		pool, err := Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		docs = docstore.NewPgStore(pool)
		users = auth.NewPgStore(pool)
		closer = pool.Close
	case "sqlite":
		s, err := docstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		docs = s
		users = auth.NewDocStore(s)
		closer = func() { s.Close() }
	case "memory":
		mem := docstore.NewMemStore()
		docs = mem
		users = auth.NewDocStore(mem)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	b := &Backend{Docs: docstore.NewBus(docs), Users: users, closer: closer}
	if err := docs.EnsureTable(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	if err := users.EnsureTable(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure users table: %w", err)
	}
	log.Info("storage ready", zap.String("driver", cfg.Driver))
	return b, nil
}
