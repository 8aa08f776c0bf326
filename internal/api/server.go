package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/decompose"
	"calm-todo/pkg/task"
)

// Planner splits a task into subtasks.
type Planner interface {
	Plan(ctx context.Context, t task.Task) ([]decompose.Subtask, error)
}

// Options wires a Server. Planner and Static are optional. A zero
// SessionIdle means DefaultSessionIdle; a negative one never expires
// sessions.
type Options struct {
	Docs        aggregate.Docs
	Users       auth.Store
	Issuer      *auth.Issuer
	Planner     Planner
	Static      http.Handler
	Log         *zap.Logger
	Store       []aggregate.Option
	SessionIdle time.Duration
}

// Server is the HTTP API server.
type Server struct {
	users    auth.Store
	issuer   *auth.Issuer
	sessions *Sessions
	planner  Planner
	static   http.Handler
	log      *zap.Logger
	started  time.Time
	mux      *http.ServeMux
}

// New creates a new Server.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	idle := opts.SessionIdle
	if idle == 0 {
		idle = DefaultSessionIdle
	}
	s := &Server{
		users:    opts.Users,
		issuer:   opts.Issuer,
		sessions: NewSessions(opts.Docs, opts.Users, log, idle, opts.Store...),
		planner:  opts.Planner,
		static:   opts.Static,
		log:      log,
		started:  time.Now(),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close detaches every open session.
func (s *Server) Close() {
	s.sessions.Close()
}

func (s *Server) routes() {
	// Auth
	s.mux.HandleFunc("POST /api/auth/sign-in", s.handleSignIn)
	s.mux.HandleFunc("POST /api/auth/sign-out", s.authed(s.handleSignOut))
	s.mux.HandleFunc("GET /api/auth/me", s.authed(s.handleMe))

	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.authed(s.handleTaskList))
	s.mux.HandleFunc("POST /api/tasks", s.authed(s.handleTaskCreate))
	s.mux.HandleFunc("GET /api/tasks/{id}", s.authed(s.handleTaskGet))
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.authed(s.handleTaskUpdate))
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.authed(s.handleTaskDelete))
	s.mux.HandleFunc("POST /api/tasks/{id}/toggle", s.authed(s.handleTaskToggle))
	s.mux.HandleFunc("GET /api/tasks/{id}/subtasks", s.authed(s.handleTaskSubtasks))
	s.mux.HandleFunc("POST /api/tasks/{id}/decompose", s.authed(s.handleTaskDecompose))

	// Projects
	s.mux.HandleFunc("GET /api/projects", s.authed(s.handleProjectList))
	s.mux.HandleFunc("POST /api/projects", s.authed(s.handleProjectCreate))
	s.mux.HandleFunc("PATCH /api/projects/{id}", s.authed(s.handleProjectUpdate))
	s.mux.HandleFunc("DELETE /api/projects/{id}", s.authed(s.handleProjectDelete))
	s.mux.HandleFunc("POST /api/projects/{id}/archive", s.authed(s.handleProjectArchive))
	s.mux.HandleFunc("GET /api/projects/{id}/tasks", s.authed(s.handleProjectTasks))

	// Views
	s.mux.HandleFunc("GET /api/views/today", s.authed(s.handleToday))
	s.mux.HandleFunc("GET /api/views/overdue", s.authed(s.handleOverdue))
	s.mux.HandleFunc("GET /api/views/stats", s.authed(s.handleStats))
	s.mux.HandleFunc("GET /api/stream", s.authed(s.handleStream))

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.authed(s.handleStatus))

	if s.static != nil {
		s.mux.Handle("GET /", s.static)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, u *auth.User, st *aggregate.Store) {
	resp := map[string]any{
		"user":     u.ID,
		"loading":  st.Loading(),
		"tasks":    len(st.Tasks()),
		"projects": len(st.Projects()),
		"sessions": s.sessions.Len(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	if err := st.Err(); err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, 200, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write json", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps aggregate sentinels onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, aggregate.ErrValidation):
		writeError(w, 400, err.Error())
	case errors.Is(err, aggregate.ErrAuth):
		writeError(w, 401, err.Error())
	case errors.Is(err, aggregate.ErrNotFound):
		writeError(w, 404, err.Error())
	default:
		writeError(w, 500, err.Error())
	}
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
