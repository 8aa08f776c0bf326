package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
)

type authedFunc func(w http.ResponseWriter, r *http.Request, u *auth.User, st *aggregate.Store)

// authed resolves the bearer token (or access_token query parameter, for
// EventSource clients) to a user and their store. The store's calendar
// zone follows the X-Timezone header, the tz query parameter or the zone
// the token was issued for, in that order, and sticks to the session.
func (s *Server) authed(h authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if raw == "" {
			raw = r.URL.Query().Get("access_token")
		}
		if raw == "" {
			writeError(w, 401, "missing token")
			return
		}
		claims, err := s.issuer.Parse(raw)
		if err != nil {
			writeError(w, 401, err.Error())
			return
		}
		u, err := s.users.Get(r.Context(), claims.UserID)
		if errors.Is(err, auth.ErrUnknownUser) {
			writeError(w, 401, err.Error())
			return
		}
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		loc, err := requestLocation(r, claims.TZ)
		if err != nil {
			writeError(w, 400, err.Error())
			return
		}
		st, release := s.sessions.Acquire(u)
		defer release()
		if loc != nil {
			st.SetLocation(loc)
		}
		h(w, r, u, st)
	}
}

func requestLocation(r *http.Request, fallback string) (*time.Location, error) {
	name := r.Header.Get("X-Timezone")
	if name == "" {
		name = r.URL.Query().Get("tz")
	}
	if name == "" {
		name = fallback
	}
	if name == "" {
		return nil, nil
	}
	return loadLocation(name)
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", name)
	}
	return loc, nil
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		TZ       string `json:"tz"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.TZ != "" {
		if _, err := loadLocation(req.TZ); err != nil {
			writeError(w, 400, err.Error())
			return
		}
	}
	u, err := s.sessions.SignIn(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrMissingName), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, 400, err.Error())
		return
	case errors.Is(err, auth.ErrBadCredentials), errors.Is(err, auth.ErrNoPassword):
		s.log.Warn("sign-in refused", zap.String("name", req.Name), zap.String("email", req.Email), zap.Error(err))
		writeError(w, 401, err.Error())
		return
	case err != nil:
		writeError(w, 500, err.Error())
		return
	}
	token, err := s.issuer.IssueZoned(u, req.TZ)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	s.log.Info("signed in", zap.String("uid", u.ID), zap.String("email", u.Email))
	writeJSON(w, 200, map[string]any{"token": token, "user": u})
}

// handleSignOut drops the server-side session. Issued tokens stay valid
// until they expire.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, u *auth.User, _ *aggregate.Store) {
	s.sessions.SignOut(r.Context(), u.ID)
	writeJSON(w, 200, map[string]string{"status": "signed out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, u *auth.User, _ *aggregate.Store) {
	writeJSON(w, 200, u)
}
