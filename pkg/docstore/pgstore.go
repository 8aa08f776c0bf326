package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed document store. Fields live in one JSONB
// column per document.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the documents table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			path        TEXT PRIMARY KEY,
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			data        JSONB NOT NULL DEFAULT '{}',
			create_time TIMESTAMPTZ NOT NULL,
			update_time TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, create_time)`)
	return err
}

// Create inserts a new document.
func (s *PgStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (path, collection, id, data, create_time, update_time)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)`,
		Path(collection, id), collection, id, string(data), now)
	if err != nil {
		return "", fmt.Errorf("create document in %s: %w", collection, err)
	}
	return id, nil
}

// Update merges fields into the stored JSONB object.
func (s *PgStore) Update(ctx context.Context, path string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET data = data || $1::jsonb, update_time = $2
		WHERE path = $3`,
		string(data), time.Now().Truncate(time.Microsecond), path)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", path, ErrNotFound)
	}
	return nil
}

// Delete removes one document.
func (s *PgStore) Delete(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", path, ErrNotFound)
	}
	return nil
}

// BatchDelete removes all paths in one transaction.
func (s *PgStore) BatchDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = ANY($1)`, paths); err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch delete: %w", err)
	}
	return nil
}

// List returns every document of collection in the requested order.
func (s *PgStore) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	query := `SELECT path, id, data, create_time, update_time FROM documents WHERE collection = $1 `
	args := []any{collection}
	if order.Field == "" {
		query += fmt.Sprintf(`ORDER BY create_time %s, id %s`, dir, dir)
	} else {
		query += fmt.Sprintf(`ORDER BY data -> $2::text %s NULLS LAST, create_time ASC, id ASC`, dir)
		args = append(args, order.Field)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var data []byte
		if err := rows.Scan(&d.Path, &d.ID, &data, &d.CreateTime, &d.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if err := json.Unmarshal(data, &d.Fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
