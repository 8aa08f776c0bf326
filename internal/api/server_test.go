package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/decompose"
	"calm-todo/pkg/docstore"
	"calm-todo/pkg/task"
)

var wednesday = time.Date(2024, 3, 13, 10, 0, 0, 0, time.Local)

type fakePlanner struct {
	subs []decompose.Subtask
	err  error
}

func (f fakePlanner) Plan(ctx context.Context, t task.Task) ([]decompose.Subtask, error) {
	return f.subs, f.err
}

const testPassword = "correct horse"

func newTestServer(t *testing.T, planner Planner) *Server {
	t.Helper()
	return newTestServerAt(t, planner, wednesday)
}

func newTestServerAt(t *testing.T, planner Planner, now time.Time) *Server {
	t.Helper()
	mem := docstore.NewMemStore()
	s := New(Options{
		Docs:    docstore.NewBus(mem),
		Users:   auth.NewDocStore(mem),
		Issuer:  auth.NewIssuer("test-secret", time.Hour),
		Planner: planner,
		Static: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("static"))
		}),
		Store: []aggregate.Option{aggregate.WithClock(aggregate.NewFakeClock(now))},
	})
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func signIn(t *testing.T, h http.Handler, name, email string) string {
	t.Helper()
	return signInWith(t, h, map[string]string{"name": name, "email": email, "password": testPassword})
}

func signInWith(t *testing.T, h http.Handler, body map[string]string) string {
	t.Helper()
	w := do(t, h, "POST", "/api/auth/sign-in", "", body)
	require.Equal(t, 200, w.Code, w.Body.String())
	resp := decode[struct {
		Token string    `json:"token"`
		User  auth.User `json:"user"`
	}](t, w)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestPublicAndProtectedRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, 200, do(t, s, "GET", "/health", "", nil).Code)
	assert.Equal(t, "static", do(t, s, "GET", "/index.html", "", nil).Body.String())
	assert.Equal(t, 401, do(t, s, "GET", "/api/tasks", "", nil).Code)
	assert.Equal(t, 401, do(t, s, "GET", "/api/tasks", "garbage", nil).Code)

	other := auth.NewIssuer("test-secret", time.Hour)
	ghost, err := other.Issue(&auth.User{ID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 401, do(t, s, "GET", "/api/tasks", ghost, nil).Code, "token for an unknown user")
}

func TestSignInAndMe(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, 400, do(t, s, "POST", "/api/auth/sign-in", "", map[string]string{}).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/api/auth/sign-in", "", "not an object").Code)

	token := signIn(t, s, "", "ada@example.com")
	me := decode[auth.User](t, do(t, s, "GET", "/api/auth/me", token, nil))
	assert.Equal(t, "ada", me.Name)
	assert.Equal(t, 1, s.sessions.Len())

	assert.Equal(t, 200, do(t, s, "POST", "/api/auth/sign-out", token, nil).Code)
	assert.Equal(t, 0, s.sessions.Len())
}

func TestSignInRequiresThePassword(t *testing.T) {
	s := newTestServer(t, nil)
	ada := signIn(t, s, "ada", "ada@example.com")
	require.Equal(t, 201, do(t, s, "POST", "/api/tasks", ada, map[string]any{"title": "private"}).Code)

	impostor := map[string]string{"name": "mallory", "email": "ada@example.com", "password": "mallory-guess"}
	w := do(t, s, "POST", "/api/auth/sign-in", "", impostor)
	assert.Equal(t, 401, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "token")

	impostor["name"] = "ada"
	assert.Equal(t, 401, do(t, s, "POST", "/api/auth/sign-in", "", impostor).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/api/auth/sign-in", "", map[string]string{"email": "ada@example.com"}).Code,
		"missing password")

	mallory := signIn(t, s, "mallory", "mallory@example.com")
	for _, tk := range decode[[]task.Task](t, do(t, s, "GET", "/api/tasks", mallory, nil)) {
		assert.NotEqual(t, "private", tk.Title)
	}

	again := signIn(t, s, "ada", "ada@example.com")
	mine := decode[[]task.Task](t, do(t, s, "GET", "/api/tasks", again, nil))
	require.Len(t, mine, 1)
	assert.Equal(t, "private", mine[0].Title)
}

func TestAccountWithoutPasswordIsRefused(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.users.Register(context.Background(), "local", "local@example.com")
	require.NoError(t, err)
	w := do(t, s, "POST", "/api/auth/sign-in", "", map[string]string{"email": "local@example.com", "password": testPassword})
	assert.Equal(t, 401, w.Code)
	assert.Contains(t, w.Body.String(), auth.ErrNoPassword.Error())
}

func TestCalendarFollowsTheCallersZone(t *testing.T) {
	// 20:00 UTC is already Thursday morning in Tokyo.
	s := newTestServerAt(t, nil, time.Date(2024, 3, 13, 20, 0, 0, 0, time.UTC))
	token := signInWith(t, s, map[string]string{"email": "ada@example.com", "password": testPassword, "tz": "Asia/Tokyo"})

	w := do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Breakfast"})
	require.Equal(t, 201, w.Code, w.Body.String())
	created := decode[task.Task](t, w)
	require.NotNil(t, created.DueDate)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	want := time.Date(2024, 3, 14, 18, 0, 0, 0, tokyo)
	assert.True(t, want.Equal(*created.DueDate), "due %v, want %v", created.DueDate.In(tokyo), want)

	today := decode[[]task.Task](t, do(t, s, "GET", "/api/views/today", token, nil))
	require.Len(t, today, 1)

	req := httptest.NewRequest("GET", "/api/views/today", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Timezone", "UTC")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Empty(t, decode[[]task.Task](t, rec), "due tomorrow in UTC")

	assert.Len(t, decode[[]task.Task](t, do(t, s, "GET", "/api/views/today?tz=Asia/Tokyo", token, nil)), 1)
	assert.Equal(t, 400, do(t, s, "GET", "/api/views/today?tz=Mars/Olympus", token, nil).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/api/auth/sign-in", "",
		map[string]string{"email": "bob@example.com", "password": testPassword, "tz": "Nowhere/Land"}).Code)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	token := signIn(t, s, "ada", "ada@example.com")

	w := do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "  Write report ", "priority": "high"})
	require.Equal(t, 201, w.Code, w.Body.String())
	parent := decode[task.Task](t, w)
	assert.Equal(t, "Write report", parent.Title)
	assert.Equal(t, task.Inbox, parent.ProjectID)
	assert.Equal(t, task.High, parent.Priority)
	require.NotNil(t, parent.DueDate)
	assert.Equal(t, 18, parent.DueDate.In(time.Local).Hour())

	w = do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Outline", "parentId": parent.ID})
	require.Equal(t, 201, w.Code)
	child := decode[task.Task](t, w)

	w = do(t, s, "PATCH", "/api/tasks/"+parent.ID, token, map[string]any{"title": "Write the report", "dueDate": nil})
	require.Equal(t, 200, w.Code, w.Body.String())
	got := decode[task.Task](t, w)
	assert.Equal(t, "Write the report", got.Title)
	assert.Nil(t, got.DueDate)

	w = do(t, s, "POST", "/api/tasks/"+parent.ID+"/toggle", token, nil)
	require.Equal(t, 200, w.Code)
	got = decode[task.Task](t, w)
	assert.Equal(t, task.Completed, got.Status)
	assert.NotNil(t, got.CompletedAt)

	list := decode[[]task.Task](t, do(t, s, "GET", "/api/tasks?status=completed", token, nil))
	require.Len(t, list, 1)
	assert.Equal(t, parent.ID, list[0].ID)
	assert.Len(t, decode[[]task.Task](t, do(t, s, "GET", "/api/tasks?limit=1", token, nil)), 1)

	subs := decode[[]task.Task](t, do(t, s, "GET", "/api/tasks/"+parent.ID+"/subtasks", token, nil))
	require.Len(t, subs, 1)
	assert.Equal(t, child.ID, subs[0].ID)

	assert.Equal(t, 200, do(t, s, "DELETE", "/api/tasks/"+parent.ID, token, nil).Code)
	assert.Equal(t, 404, do(t, s, "GET", "/api/tasks/"+parent.ID, token, nil).Code)
	assert.Equal(t, 404, do(t, s, "GET", "/api/tasks/"+child.ID, token, nil).Code, "children go with the parent")
}

func TestTaskErrors(t *testing.T) {
	s := newTestServer(t, nil)
	token := signIn(t, s, "ada", "ada@example.com")

	assert.Equal(t, 400, do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "   "}).Code)
	assert.Equal(t, 400, do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "x", "priority": "urgent"}).Code)
	assert.Equal(t, 400, do(t, s, "PATCH", "/api/tasks/nope", token, "oops").Code)
	assert.Equal(t, 404, do(t, s, "PATCH", "/api/tasks/nope", token, map[string]any{"title": "y"}).Code)
	assert.Equal(t, 404, do(t, s, "POST", "/api/tasks/nope/toggle", token, nil).Code)
	assert.Equal(t, 404, do(t, s, "DELETE", "/api/tasks/nope", token, nil).Code)
	assert.Equal(t, 404, do(t, s, "GET", "/api/tasks/nope/subtasks", token, nil).Code)
}

func TestUsersSeeOnlyTheirTasks(t *testing.T) {
	s := newTestServer(t, nil)
	ada := signIn(t, s, "ada", "ada@example.com")
	bob := signIn(t, s, "bob", "bob@example.com")

	w := do(t, s, "POST", "/api/tasks", ada, map[string]any{"title": "private"})
	require.Equal(t, 201, w.Code)
	id := decode[task.Task](t, w).ID

	assert.Empty(t, decode[[]task.Task](t, do(t, s, "GET", "/api/tasks", bob, nil)))
	assert.Equal(t, 404, do(t, s, "POST", "/api/tasks/"+id+"/toggle", bob, nil).Code)
	assert.Len(t, decode[[]task.Task](t, do(t, s, "GET", "/api/tasks", ada, nil)), 1)
}

func TestProjects(t *testing.T) {
	s := newTestServer(t, nil)
	token := signIn(t, s, "ada", "ada@example.com")

	assert.Equal(t, 400, do(t, s, "POST", "/api/projects", token, map[string]string{"name": ""}).Code)

	w := do(t, s, "POST", "/api/projects", token, map[string]string{"name": "Work"})
	require.Equal(t, 201, w.Code, w.Body.String())
	work := decode[task.Project](t, w)
	assert.Contains(t, task.Palette, work.Color)

	w = do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Write report", "projectId": work.ID})
	require.Equal(t, 201, w.Code)
	assert.Len(t, decode[[]task.Task](t, do(t, s, "GET", "/api/projects/"+work.ID+"/tasks", token, nil)), 1)
	assert.Empty(t, decode[[]task.Task](t, do(t, s, "GET", "/api/projects/inbox/tasks", token, nil)))
	assert.Equal(t, 404, do(t, s, "GET", "/api/projects/nope/tasks", token, nil).Code)

	w = do(t, s, "PATCH", "/api/projects/"+work.ID, token, map[string]string{"name": "Office"})
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "Office", decode[task.Project](t, w).Name)

	w = do(t, s, "POST", "/api/projects/"+work.ID+"/archive", token, nil)
	require.Equal(t, 200, w.Code)
	assert.True(t, decode[task.Project](t, w).IsArchived)
	assert.Empty(t, decode[[]task.Project](t, do(t, s, "GET", "/api/projects", token, nil)))
	assert.Len(t, decode[[]task.Project](t, do(t, s, "GET", "/api/projects?archived=true", token, nil)), 1)

	assert.Equal(t, 200, do(t, s, "DELETE", "/api/projects/"+work.ID, token, nil).Code)
	assert.Equal(t, 404, do(t, s, "DELETE", "/api/projects/"+work.ID, token, nil).Code)
}

func TestViews(t *testing.T) {
	s := newTestServer(t, nil)
	token := signIn(t, s, "ada", "ada@example.com")

	yesterday := wednesday.AddDate(0, 0, -1)
	for _, in := range []map[string]any{
		{"title": "today one"},
		{"title": "today two"},
		{"title": "late", "dueDate": yesterday},
	} {
		require.Equal(t, 201, do(t, s, "POST", "/api/tasks", token, in).Code)
	}
	today := decode[[]task.Task](t, do(t, s, "GET", "/api/views/today", token, nil))
	require.Len(t, today, 2)
	require.Equal(t, 200, do(t, s, "POST", "/api/tasks/"+today[0].ID+"/toggle", token, nil).Code)

	overdue := decode[[]task.Task](t, do(t, s, "GET", "/api/views/overdue", token, nil))
	require.Len(t, overdue, 1)
	assert.Equal(t, "late", overdue[0].Title)

	stats := decode[struct {
		Today  aggregate.Stats         `json:"today"`
		Streak int                     `json:"streak"`
		Weekly []aggregate.DayActivity `json:"weekly"`
	}](t, do(t, s, "GET", "/api/views/stats", token, nil))
	assert.Equal(t, aggregate.Stats{Completed: 1, Total: 2}, stats.Today)
	assert.Equal(t, 1, stats.Streak)
	require.Len(t, stats.Weekly, 7)
	assert.Equal(t, 1, stats.Weekly[2].Count)

	status := decode[map[string]any](t, do(t, s, "GET", "/api/status", token, nil))
	assert.EqualValues(t, 3, status["tasks"])
}

func TestDecompose(t *testing.T) {
	s := newTestServer(t, nil)
	token := signIn(t, s, "ada", "ada@example.com")
	w := do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Move house"})
	require.Equal(t, 201, w.Code)
	parent := decode[task.Task](t, w)
	assert.Equal(t, 501, do(t, s, "POST", "/api/tasks/"+parent.ID+"/decompose", token, nil).Code)

	s = newTestServer(t, fakePlanner{subs: []decompose.Subtask{
		{Title: "Book van", Category: "setup", Effort: "15 min"},
		{Title: "Pack books", Category: "implementation", Effort: "half day"},
	}})
	token = signIn(t, s, "ada", "ada@example.com")
	w = do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Move house", "priority": "high"})
	require.Equal(t, 201, w.Code)
	parent = decode[task.Task](t, w)

	w = do(t, s, "POST", "/api/tasks/"+parent.ID+"/decompose", token, nil)
	require.Equal(t, 201, w.Code, w.Body.String())
	subs := decode[[]task.Task](t, do(t, s, "GET", "/api/tasks/"+parent.ID+"/subtasks", token, nil))
	require.Len(t, subs, 2)
	for _, sub := range subs {
		assert.Equal(t, task.High, sub.Priority)
		assert.True(t, sub.IsSubtask())
	}
	assert.Equal(t, 400, do(t, s, "POST", "/api/tasks/"+subs[0].ID+"/decompose", token, nil).Code)
	assert.Equal(t, 404, do(t, s, "POST", "/api/tasks/nope/decompose", token, nil).Code)
}

func TestDecomposeOutcomes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"atomic", decompose.ErrAtomic, 200},
		{"model failure", errors.New("rate limited"), 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, fakePlanner{err: tc.err})
			token := signIn(t, s, "ada", "ada@example.com")
			w := do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "x"})
			require.Equal(t, 201, w.Code)
			id := decode[task.Task](t, w).ID
			assert.Equal(t, tc.code, do(t, s, "POST", "/api/tasks/"+id+"/decompose", token, nil).Code)
		})
	}
}

func TestStream(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()
	token := signIn(t, s, "ada", "ada@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/stream?access_token="+token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := lines.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
	}

	assert.Equal(t, "[]\n", next())
	require.Equal(t, 201, do(t, s, "POST", "/api/tasks", token, map[string]any{"title": "Stream me"}).Code)
	assert.Contains(t, next(), "Stream me")
}
