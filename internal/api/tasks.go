package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/decompose"
	"calm-todo/pkg/task"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	tasks := st.Tasks()
	if status := task.Status(r.URL.Query().Get("status")); status != "" {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	t, ok := st.TaskByID(r.PathValue("id"))
	if !ok {
		writeError(w, 404, "task not found")
		return
	}
	writeJSON(w, 200, t)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	var in task.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	id, err := st.CreateTask(r.Context(), in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeCreated(w, st, id)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	id := r.PathValue("id")
	var p task.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := st.UpdateTask(r.Context(), id, p); err != nil {
		writeStoreError(w, err)
		return
	}
	s.handleTaskGet(w, r, nil, st)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	if err := st.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) handleTaskToggle(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	if err := st.ToggleTaskStatus(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	s.handleTaskGet(w, r, nil, st)
}

func (s *Server) handleTaskSubtasks(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	id := r.PathValue("id")
	if _, ok := st.TaskByID(id); !ok {
		writeError(w, 404, "task not found")
		return
	}
	writeJSON(w, 200, st.Subtasks(id))
}

func (s *Server) handleTaskDecompose(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	if s.planner == nil {
		writeError(w, 501, "task decomposition is not configured")
		return
	}
	parent, ok := st.TaskByID(r.PathValue("id"))
	if !ok {
		writeError(w, 404, "task not found")
		return
	}
	if parent.IsSubtask() {
		writeError(w, 400, "subtasks cannot be split further")
		return
	}

	subs, err := s.planner.Plan(r.Context(), parent)
	if errors.Is(err, decompose.ErrAtomic) {
		writeJSON(w, 200, map[string]any{"atomic": true, "ids": []string{}})
		return
	}
	if err != nil {
		s.log.Warn("decompose", zap.String("task", parent.ID), zap.Error(err))
		writeError(w, 502, err.Error())
		return
	}

	ids, err := decompose.Apply(r.Context(), st, parent, subs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 201, map[string]any{"atomic": false, "ids": ids, "subtasks": subs})
}

// writeCreated answers with the stored task, which the write's snapshot
// has already delivered.
func writeCreated(w http.ResponseWriter, st *aggregate.Store, id string) {
	if t, ok := st.TaskByID(id); ok {
		writeJSON(w, 201, t)
		return
	}
	writeJSON(w, 201, map[string]string{"id": id})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
