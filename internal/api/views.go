package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
)

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	writeJSON(w, 200, st.TodayTasks())
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	writeJSON(w, 200, st.OverdueTasks())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ *auth.User, st *aggregate.Store) {
	writeJSON(w, 200, map[string]any{
		"today":  st.TodayStats(),
		"streak": st.Streak(),
		"weekly": st.WeeklyActivity(),
	})
}

// heartbeat keeps idle streams open through proxies.
var heartbeat = 30 * time.Second

// handleStream sends the caller's full task list now and after every
// snapshot that changes it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, u *auth.User, st *aggregate.Store) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	changed := make(chan struct{}, 1)
	stop := st.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	ctx := r.Context()
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var last []byte
	send := func() bool {
		data, err := json.Marshal(st.Tasks())
		if err != nil {
			s.log.Warn("stream encode", zap.String("uid", u.ID), zap.Error(err))
			return true
		}
		if last != nil && bytes.Equal(data, last) {
			return true
		}
		last = data
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if !send() {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
