package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a document store in a single SQLite file, for running the
// CLI and desktop client without a database server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// EnsureTable creates the documents table if it doesn't exist.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS documents (
		path        TEXT PRIMARY KEY,
		collection  TEXT NOT NULL,
		id          TEXT NOT NULL,
		data        TEXT NOT NULL DEFAULT '{}',
		create_time INTEGER NOT NULL,
		update_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, create_time);
	`)
	return err
}

// Create inserts a new document.
func (s *SQLiteStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UnixNano()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, collection, id, data, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		Path(collection, id), collection, id, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("create document in %s: %w", collection, err)
	}
	return id, nil
}

// Update merges fields into the stored object inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	patch, err := normalize(fields)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	current := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	maps.Copy(current, patch)
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ?, update_time = ? WHERE path = ?`,
		string(data), time.Now().UnixNano(), path); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return tx.Commit()
}

// Delete removes one document.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s: %w", path, ErrNotFound)
	}
	return nil
}

// BatchDelete removes all paths in one transaction.
func (s *SQLiteStore) BatchDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	return tx.Commit()
}

// List returns every document of collection in the requested order.
func (s *SQLiteStore) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, id, data, create_time, update_time FROM documents
		WHERE collection = ? ORDER BY create_time ASC, id ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var data string
		var created, updated int64
		if err := rows.Scan(&d.Path, &d.ID, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if err := json.Unmarshal([]byte(data), &d.Fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		d.CreateTime = time.Unix(0, created)
		d.UpdateTime = time.Unix(0, updated)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortDocuments(docs, order)
	return docs, nil
}
