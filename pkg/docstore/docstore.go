// Package docstore persists schemaless documents grouped in collections and
// pushes whole-collection snapshots to subscribers after every write.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned for an unknown document path.
var ErrNotFound = errors.New("document not found")

// Document is one record of a collection.
type Document struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Fields     map[string]any `json:"fields"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

// Order sorts a collection listing. An empty Field sorts by creation time.
type Order struct {
	Field string
	Desc  bool
}

// Store is the contract for document persistence.
type Store interface {
	// Create adds a document with a generated id and returns the id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update merges fields into an existing document. A nil value stores null.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// BatchDelete removes all paths in one transaction. Missing paths are ignored.
	BatchDelete(ctx context.Context, paths []string) error
	List(ctx context.Context, collection string, order Order) ([]Document, error)
	EnsureTable(ctx context.Context) error
}

// UserCollection returns the collection path of name owned by uid.
func UserCollection(uid, name string) string {
	return "users/" + uid + "/" + name
}

// Path joins a collection and a document id.
func Path(collection, id string) string {
	return collection + "/" + id
}

// Split breaks a document path into its collection and id.
func Split(path string) (collection, id string, err error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	return path[:i], path[i+1:], nil
}

// normalize converts fields to their JSON form so every backend hands out
// the same value types: strings, float64, bool, nil, []any and map[string]any.
func normalize(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, nil
}

// Decode unmarshals a document's fields into v.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", doc.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	return nil
}

// sortDocuments orders docs in place. Documents missing the order field sort
// last and field ties fall back to creation time, then id. Ids are UUIDv7,
// so they break creation-time ties in creation order.
func sortDocuments(docs []Document, order Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if order.Field != "" {
			if c := compareValues(a.Fields[order.Field], b.Fields[order.Field]); c != 0 {
				if order.Desc {
					return c > 0
				}
				return c < 0
			}
			if c := byCreation(a, b); c != 0 {
				return c < 0
			}
			return false
		}
		c := byCreation(a, b)
		if order.Desc {
			return c > 0
		}
		return c < 0
	})
}

func byCreation(a, b Document) int {
	if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return 0
}
