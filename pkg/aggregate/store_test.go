package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"calm-todo/pkg/auth"
	"calm-todo/pkg/docstore"
	"calm-todo/pkg/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// wednesday is 2024-03-13 10:00 local time.
var wednesday = time.Date(2024, 3, 13, 10, 0, 0, 0, time.Local)

type fixture struct {
	store *Store
	sess  *auth.Session
	clock *FakeClock
	docs  *docstore.Bus
	user  *auth.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := NewFakeClock(wednesday)
	docs := docstore.NewBus(docstore.NewMemStore())
	sess := auth.NewSession(auth.NewMemStore())

	st := New(docs, sess, WithClock(clock), WithRand(func(int) int { return 0 }))
	stop := st.Follow(ctx, sess)
	t.Cleanup(stop)

	u, err := sess.SignIn(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	require.False(t, st.Loading())
	return &fixture{store: st, sess: sess, clock: clock, docs: docs, user: u}
}

func (f *fixture) create(t *testing.T, in task.Input) string {
	t.Helper()
	id, err := f.store.CreateTask(context.Background(), in)
	require.NoError(t, err)
	return id
}

func (f *fixture) task(t *testing.T, id string) task.Task {
	t.Helper()
	got, ok := f.store.TaskByID(id)
	require.True(t, ok, "task %s not in snapshot", id)
	return got
}

func TestWorkReportScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pid, err := f.store.CreateProject(ctx, task.ProjectInput{Name: "Work"})
	require.NoError(t, err)
	p, ok := f.store.ProjectByID(pid)
	require.True(t, ok)
	assert.Equal(t, 0, p.Order)
	assert.Contains(t, task.Palette, p.Color)

	id := f.create(t, task.Input{Title: "Write report", ProjectID: pid})
	got := f.task(t, id)
	assert.Equal(t, task.Pending, got.Status)
	assert.Equal(t, 0, got.Order)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(time.Date(2024, 3, 13, 18, 0, 0, 0, time.Local)))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.store.ToggleTaskStatus(ctx, id))
	got = f.task(t, id)
	assert.Equal(t, task.Completed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(f.clock.Now()))

	assert.Equal(t, Stats{Completed: 1, Total: 1}, f.store.TodayStats())
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, task.Input{Title: "a"})

	require.NoError(t, f.store.ToggleTaskStatus(ctx, id))
	require.NoError(t, f.store.ToggleTaskStatus(ctx, id))

	got := f.task(t, id)
	assert.Equal(t, task.Pending, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCompletionInvariantHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, task.Input{Title: "a"})
	f.create(t, task.Input{Title: "b"})
	require.NoError(t, f.store.ToggleTaskStatus(ctx, a))

	for _, tk := range f.store.Tasks() {
		assert.Equal(t, tk.Status == task.Completed, tk.CompletedAt != nil, tk.Title)
	}
}

func TestOrderIsCollectionSize(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, task.Input{Title: "a"})
	second := f.create(t, task.Input{Title: "b"})

	assert.Equal(t, 0, f.task(t, first).Order)
	assert.Equal(t, 1, f.task(t, second).Order)

	tasks := f.store.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, second, tasks[0].ID, "newest first")
}

func TestSubtasksAndCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t1 := f.create(t, task.Input{Title: "parent"})
	t2 := f.create(t, task.Input{Title: "child", ParentID: t1})
	t3 := f.create(t, task.Input{Title: "grandchild", ParentID: t2})
	other := f.create(t, task.Input{Title: "unrelated"})

	subs := f.store.Subtasks(t1)
	require.Len(t, subs, 1)
	assert.Equal(t, t2, subs[0].ID)

	require.NoError(t, f.store.DeleteTask(ctx, t1))

	_, ok := f.store.TaskByID(t1)
	assert.False(t, ok)
	_, ok = f.store.TaskByID(t2)
	assert.False(t, ok)
	_, ok = f.store.TaskByID(t3)
	assert.True(t, ok, "cascade is one level deep")
	_, ok = f.store.TaskByID(other)
	assert.True(t, ok)
}

func TestTasksByProjectExcludesSubtasks(t *testing.T) {
	f := newFixture(t)
	parent := f.create(t, task.Input{Title: "p", ProjectID: "work"})
	f.create(t, task.Input{Title: "c", ProjectID: "work", ParentID: parent})
	f.create(t, task.Input{Title: "inbox"})

	got := f.store.TasksByProject("work")
	require.Len(t, got, 1)
	assert.Equal(t, parent, got[0].ID)
	for _, tk := range got {
		assert.Empty(t, tk.ParentID)
	}
	assert.Len(t, f.store.TasksByProject(task.Inbox), 1)
}

func TestUpdateTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, task.Input{Title: "old", Tags: []string{"x"}})

	f.clock.Advance(time.Minute)
	title := "new"
	high := task.High
	require.NoError(t, f.store.UpdateTask(ctx, id, task.Patch{Title: &title, Priority: &high, ClearDueDate: true}))

	got := f.task(t, id)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, task.High, got.Priority)
	assert.Equal(t, []string{"x"}, got.Tags, "untouched fields survive")
	assert.Nil(t, got.DueDate)
	assert.True(t, got.UpdatedAt.Equal(f.clock.Now()))
	assert.True(t, got.CreatedAt.Equal(wednesday))
}

func TestMutationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	title := "x"

	_, err := f.store.CreateTask(ctx, task.Input{Title: "  "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.store.CreateProject(ctx, task.ProjectInput{})
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, f.store.UpdateTask(ctx, "nope", task.Patch{Title: &title}), ErrNotFound)
	assert.ErrorIs(t, f.store.ToggleTaskStatus(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, f.store.DeleteTask(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, f.store.UpdateProject(ctx, "nope", task.ProjectPatch{}), ErrNotFound)
	assert.ErrorIs(t, f.store.ArchiveProject(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, f.store.DeleteProject(ctx, "nope"), ErrNotFound)
}

func TestSignedOutMutationsFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, task.Input{Title: "a"})
	require.NoError(t, f.sess.SignOut(ctx))

	assert.Empty(t, f.store.Tasks(), "sign-out clears local state")
	assert.True(t, f.store.Loading())

	_, err := f.store.CreateTask(ctx, task.Input{Title: "b"})
	assert.ErrorIs(t, err, ErrAuth)
	_, err = f.store.CreateProject(ctx, task.ProjectInput{Name: "p"})
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, f.store.ToggleTaskStatus(ctx, id), ErrAuth)
	assert.ErrorIs(t, f.store.DeleteProject(ctx, "p"), ErrAuth)
}

func TestSignInAgainReloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, task.Input{Title: "a"})
	require.NoError(t, f.sess.SignOut(ctx))

	_, err := f.sess.SignIn(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	_, ok := f.store.TaskByID(id)
	assert.True(t, ok)
}

func TestUsersArePartitioned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, task.Input{Title: "mine"})

	other := auth.NewSession(auth.NewMemStore())
	st := New(f.docs, other, WithClock(f.clock))
	defer st.Follow(ctx, other)()
	_, err := other.SignIn(ctx, "bob", "bob@example.com")
	require.NoError(t, err)

	assert.Empty(t, st.Tasks())
	assert.Len(t, f.store.Tasks(), 1)
}

func TestProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.store.CreateProject(ctx, task.ProjectInput{Name: "Work"})
	require.NoError(t, err)
	b, err := f.store.CreateProject(ctx, task.ProjectInput{Name: "Home", Color: "#123456"})
	require.NoError(t, err)

	pa, _ := f.store.ProjectByID(a)
	pb, _ := f.store.ProjectByID(b)
	assert.Equal(t, task.Palette[0], pa.Color)
	assert.Equal(t, "#123456", pb.Color)
	assert.Equal(t, 1, pb.Order)

	c, err := f.store.CreateProject(ctx, task.ProjectInput{Name: "Gym"})
	require.NoError(t, err)
	pc, _ := f.store.ProjectByID(c)
	assert.Equal(t, task.Palette[1], pc.Color, "used colors are skipped")

	require.NoError(t, f.store.ArchiveProject(ctx, a))
	active := f.store.ActiveProjects()
	require.Len(t, active, 2)
	assert.Equal(t, b, active[0].ID)

	name := "House"
	require.NoError(t, f.store.UpdateProject(ctx, b, task.ProjectPatch{Name: &name}))
	pb, _ = f.store.ProjectByID(b)
	assert.Equal(t, "House", pb.Name)

	require.NoError(t, f.store.DeleteProject(ctx, b))
	_, ok := f.store.ProjectByID(b)
	assert.False(t, ok)
	assert.Len(t, f.store.Projects(), 2)
}

func TestOnChange(t *testing.T) {
	f := newFixture(t)
	calls := 0
	stop := f.store.OnChange(func() { calls++ })
	f.create(t, task.Input{Title: "a"})
	assert.Equal(t, 1, calls)

	stop()
	f.create(t, task.Input{Title: "b"})
	assert.Equal(t, 1, calls)
}

type brokenDocs struct {
	*docstore.Bus
}

func (b brokenDocs) Subscribe(ctx context.Context, collection string, order docstore.Order, onSnapshot func([]docstore.Document), onError func(error)) func() {
	onError(errors.New("permission denied"))
	return func() {}
}

func TestSyncErrorsAreRecorded(t *testing.T) {
	sess := auth.NewSession(auth.NewMemStore())
	st := New(brokenDocs{docstore.NewBus(docstore.NewMemStore())}, sess)
	defer st.Attach(context.Background(), "u1")()

	err := st.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSync)
	assert.False(t, st.Loading())
	assert.Empty(t, st.Tasks())
}

func TestStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, 0, f.store.Streak(), "empty collection")

	a := f.create(t, task.Input{Title: "yesterday"})
	b := f.create(t, task.Input{Title: "today"})

	f.clock.Set(wednesday.AddDate(0, 0, -1))
	require.NoError(t, f.store.ToggleTaskStatus(ctx, a))
	f.clock.Set(wednesday)
	require.NoError(t, f.store.ToggleTaskStatus(ctx, b))

	assert.Equal(t, 2, f.store.Streak())
}

func TestWeeklyActivityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mon := f.create(t, task.Input{Title: "mon"})
	w1 := f.create(t, task.Input{Title: "wed 1"})
	w2 := f.create(t, task.Input{Title: "wed 2"})

	f.clock.Set(wednesday.AddDate(0, 0, -2))
	require.NoError(t, f.store.ToggleTaskStatus(ctx, mon))
	f.clock.Set(wednesday)
	require.NoError(t, f.store.ToggleTaskStatus(ctx, w1))
	require.NoError(t, f.store.ToggleTaskStatus(ctx, w2))

	want := []DayActivity{
		{"Mon", 1}, {"Tue", 0}, {"Wed", 2}, {"Thu", 0}, {"Fri", 0}, {"Sat", 0}, {"Sun", 0},
	}
	if diff := cmp.Diff(want, f.store.WeeklyActivity()); diff != "" {
		t.Errorf("WeeklyActivity() mismatch (-want +got):\n%s", diff)
	}
}

func TestLocationDecidesTheCalendarDay(t *testing.T) {
	f := newFixture(t)
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 13th is 05:00 on the 14th in Tokyo.
	f.clock.Set(time.Date(2024, 3, 13, 20, 0, 0, 0, time.UTC))

	f.store.SetLocation(tokyo)
	id := f.create(t, task.Input{Title: "Breakfast meeting"})
	due := f.task(t, id).DueDate
	require.NotNil(t, due)
	assert.True(t, due.Equal(time.Date(2024, 3, 14, 18, 0, 0, 0, tokyo)), "default due is 18:00 in the user's zone, got %v", due)
	assert.Equal(t, []string{"Breakfast meeting"}, titles(f.store.TodayTasks()))

	f.store.SetLocation(time.UTC)
	assert.Empty(t, f.store.TodayTasks(), "the 14th is tomorrow in UTC")
	assert.Empty(t, f.store.OverdueTasks())

	f.store.SetLocation(nil)
	assert.Nil(t, f.store.Location())
}
