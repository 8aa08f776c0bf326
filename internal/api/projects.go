package api

import (
	"encoding/json"
	"net/http"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/task"
)

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	if queryBool(r, "archived") {
		writeJSON(w, 200, st.Projects())
		return
	}
	writeJSON(w, 200, st.ActiveProjects())
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	var in task.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	id, err := st.CreateProject(r.Context(), in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if p, ok := st.ProjectByID(id); ok {
		writeJSON(w, 201, p)
		return
	}
	writeJSON(w, 201, map[string]string{"id": id})
}

func (s *Server) handleProjectUpdate(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	var p task.ProjectPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	s.writeProjectAfter(w, r, st, st.UpdateProject(r.Context(), r.PathValue("id"), p))
}

func (s *Server) handleProjectArchive(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	s.writeProjectAfter(w, r, st, st.ArchiveProject(r.Context(), r.PathValue("id")))
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	if err := st.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) handleProjectTasks(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	id := r.PathValue("id")
	if _, ok := st.ProjectByID(id); !ok && id != task.Inbox {
		writeError(w, 404, "project not found")
		return
	}
	writeJSON(w, 200, st.TasksByProject(id))
}

func (s *Server) writeProjectAfter(w http.ResponseWriter, r *http.Request, st *aggregate.Store, err error) {
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p, ok := st.ProjectByID(r.PathValue("id"))
	if !ok {
		writeError(w, 404, "project not found")
		return
	}
	writeJSON(w, 200, p)
}
