package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"calm-todo/pkg/docstore"
	"calm-todo/pkg/task"
)

// CreateProject stores a new project and returns its id. Without a color
// one is picked from the palette, preferring colors no project uses yet.
func (s *Store) CreateProject(ctx context.Context, in task.ProjectInput) (string, error) {
	p, err := task.NewProject(in, s.now())
	if err != nil {
		return "", fmt.Errorf("create project: %w: %v", ErrValidation, err)
	}
	uid, err := s.userID()
	if err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}

	s.mu.RLock()
	p.Order = len(s.projects)
	used := make([]string, 0, len(s.projects))
	for _, existing := range s.projects {
		used = append(used, existing.Color)
	}
	s.mu.RUnlock()
	if p.Color == "" {
		p.Color = task.PickColor(used, s.intn)
	}

	id, err := s.docs.Create(ctx, docstore.UserCollection(uid, "projects"), p.Fields())
	if err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	s.log.Info("project created", zap.String("id", id), zap.String("color", p.Color))
	return id, nil
}

// UpdateProject merges the provided fields into a project.
func (s *Store) UpdateProject(ctx context.Context, id string, p task.ProjectPatch) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("update project %s: %w: %v", id, ErrValidation, err)
	}
	uid, err := s.userID()
	if err != nil {
		return fmt.Errorf("update project %s: %w", id, err)
	}
	if _, ok := s.ProjectByID(id); !ok {
		return fmt.Errorf("update project %s: %w", id, ErrNotFound)
	}
	fields := p.Fields()
	fields["updatedAt"] = s.now()
	return s.update(ctx, uid, "projects", id, fields)
}

// ArchiveProject hides a project from the active list.
func (s *Store) ArchiveProject(ctx context.Context, id string) error {
	archived := true
	return s.UpdateProject(ctx, id, task.ProjectPatch{IsArchived: &archived})
}

// DeleteProject removes a project. Its tasks are left in place.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	uid, err := s.userID()
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if _, ok := s.ProjectByID(id); !ok {
		return fmt.Errorf("delete project %s: %w", id, ErrNotFound)
	}
	path := docstore.Path(docstore.UserCollection(uid, "projects"), id)
	if err := s.docs.Delete(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("delete project %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	s.log.Info("project deleted", zap.String("id", id))
	return nil
}
