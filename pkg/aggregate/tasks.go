package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"calm-todo/pkg/docstore"
	"calm-todo/pkg/task"
)

// CreateTask stores a new pending task and returns its id. Missing fields
// get defaults: due today at 18:00, medium priority, the inbox project.
func (s *Store) CreateTask(ctx context.Context, in task.Input) (string, error) {
	t, err := task.New(in, s.now())
	if err != nil {
		return "", fmt.Errorf("create task: %w: %v", ErrValidation, err)
	}
	uid, err := s.userID()
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	s.mu.RLock()
	t.Order = len(s.tasks)
	s.mu.RUnlock()

	id, err := s.docs.Create(ctx, docstore.UserCollection(uid, "tasks"), t.Fields())
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	s.log.Info("task created", zap.String("id", id), zap.String("project", t.ProjectID))
	return id, nil
}

// UpdateTask merges the provided fields into a task and restamps updatedAt.
func (s *Store) UpdateTask(ctx context.Context, id string, p task.Patch) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("update task %s: %w: %v", id, ErrValidation, err)
	}
	uid, err := s.userID()
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if _, ok := s.TaskByID(id); !ok {
		return fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}
	fields := p.Fields()
	fields["updatedAt"] = s.now()
	return s.update(ctx, uid, "tasks", id, fields)
}

// ToggleTaskStatus flips a task between pending and completed, keeping
// completedAt set exactly when the task is completed.
func (s *Store) ToggleTaskStatus(ctx context.Context, id string) error {
	uid, err := s.userID()
	if err != nil {
		return fmt.Errorf("toggle task %s: %w", id, err)
	}
	t, ok := s.TaskByID(id)
	if !ok {
		return fmt.Errorf("toggle task %s: %w", id, ErrNotFound)
	}
	now := s.now()
	fields := map[string]any{"updatedAt": now}
	if t.Done() {
		fields["status"] = string(task.Pending)
		fields["completedAt"] = nil
	} else {
		fields["status"] = string(task.Completed)
		fields["completedAt"] = now
	}
	if err := s.update(ctx, uid, "tasks", id, fields); err != nil {
		return err
	}
	s.log.Info("task toggled", zap.String("id", id), zap.Any("status", fields["status"]))
	return nil
}

// DeleteTask removes a task and its direct subtasks in one batch.
// Grandchildren are not followed.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	uid, err := s.userID()
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if _, ok := s.TaskByID(id); !ok {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}
	coll := docstore.UserCollection(uid, "tasks")
	paths := []string{docstore.Path(coll, id)}
	for _, child := range s.Subtasks(id) {
		paths = append(paths, docstore.Path(coll, child.ID))
	}
	if err := s.docs.BatchDelete(ctx, paths); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.log.Info("task deleted", zap.String("id", id), zap.Int("subtasks", len(paths)-1))
	return nil
}

func (s *Store) update(ctx context.Context, uid, collection, id string, fields map[string]any) error {
	path := docstore.Path(docstore.UserCollection(uid, collection), id)
	if err := s.docs.Update(ctx, path, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("update %s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}
