package docstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and the memory driver.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*Document // collection -> id -> doc
	now  func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]map[string]*Document),
		now:  time.Now,
	}
}

// EnsureTable is a no-op.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Create stores a new document.
func (s *MemStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	data, err := normalize(fields)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV7()).String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.docs[collection]
	if coll == nil {
		coll = make(map[string]*Document)
		s.docs[collection] = coll
	}
	coll[id] = &Document{
		ID:         id,
		Path:       Path(collection, id),
		Fields:     data,
		CreateTime: now,
		UpdateTime: now,
	}
	return id, nil
}

// Update merges fields into the document at path.
func (s *MemStore) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	data, err := normalize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s: %w", path, ErrNotFound)
	}
	merged := maps.Clone(doc.Fields)
	maps.Copy(merged, data)
	doc.Fields = merged
	doc.UpdateTime = s.now()
	return nil
}

// Delete removes the document at path.
func (s *MemStore) Delete(ctx context.Context, path string) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return fmt.Errorf("delete %s: %w", path, ErrNotFound)
	}
	delete(s.docs[collection], id)
	return nil
}

// BatchDelete removes every path under one lock.
func (s *MemStore) BatchDelete(ctx context.Context, paths []string) error {
	type key struct{ collection, id string }
	keys := make([]key, 0, len(paths))
	for _, p := range paths {
		collection, id, err := Split(p)
		if err != nil {
			return err
		}
		keys = append(keys, key{collection, id})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.docs[k.collection], k.id)
	}
	return nil
}

// List returns copies of every document in collection.
func (s *MemStore) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		cp := *d
		cp.Fields = maps.Clone(d.Fields)
		docs = append(docs, cp)
	}
	s.mu.RUnlock()

	sortDocuments(docs, order)
	return docs, nil
}
