// Package aggregate holds one user's tasks and projects as pushed by the
// document store, applies mutations through it and answers derived queries.
package aggregate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/auth"
	"calm-todo/pkg/docstore"
	"calm-todo/pkg/task"
)

// Docs is the persistence collaborator: document writes plus
// whole-collection snapshot subscriptions.
type Docs interface {
	Subscribe(ctx context.Context, collection string, order docstore.Order, onSnapshot func([]docstore.Document), onError func(error)) func()
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	BatchDelete(ctx context.Context, paths []string) error
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUser() *auth.User
}

var (
	taskOrder    = docstore.Order{Desc: true}
	projectOrder = docstore.Order{Field: "order"}
)

// Store is the task and project aggregate for one user. Local state changes
// only when a snapshot arrives; mutations return once the document store
// has acknowledged the write.
type Store struct {
	docs  Docs
	ident Identity
	clock Clock
	log   *zap.Logger
	intn  func(n int) int

	mu             sync.RWMutex
	loc            *time.Location
	uid            string
	tasks          []task.Task
	projects       []task.Project
	tasksLoaded    bool
	projectsLoaded bool
	err            error
	watchers       map[int]func()
	nextWatcher    int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and derived views.
func WithClock(c Clock) Option { return func(s *Store) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithLocation sets the zone whose calendar day the views and the default
// due time use. Without it the clock's own zone applies.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

// WithRand sets the random source used to pick project colors.
func WithRand(intn func(n int) int) Option { return func(s *Store) { s.intn = intn } }

// New creates an empty, detached Store.
func New(docs Docs, ident Identity, opts ...Option) *Store {
	s := &Store{
		docs:     docs,
		ident:    ident,
		clock:    RealClock{},
		log:      zap.NewNop(),
		intn:     rand.IntN,
		watchers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes to uid's tasks and projects. Initial snapshots are
// applied before Attach returns. The returned func unsubscribes both and
// clears local state.
func (s *Store) Attach(ctx context.Context, uid string) func() {
	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()

	unsubTasks := s.docs.Subscribe(ctx, docstore.UserCollection(uid, "tasks"), taskOrder,
		func(docs []docstore.Document) { s.applyTasks(uid, docs) },
		func(err error) { s.fail(uid, "tasks", err) })
	unsubProjects := s.docs.Subscribe(ctx, docstore.UserCollection(uid, "projects"), projectOrder,
		func(docs []docstore.Document) { s.applyProjects(uid, docs) },
		func(err error) { s.fail(uid, "projects", err) })

	s.log.Debug("attached", zap.String("uid", uid))

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubTasks()
			unsubProjects()
			s.mu.Lock()
			if s.uid == uid {
				s.reset()
			}
			s.mu.Unlock()
			s.notify()
			s.log.Debug("detached", zap.String("uid", uid))
		})
	}
}

// Follow keeps the store attached to whoever p reports as signed in:
// attaching on sign-in and detaching and clearing on sign-out. The returned
// func stops following and detaches.
func (s *Store) Follow(ctx context.Context, p auth.Provider) func() {
	var mu sync.Mutex
	var detach func()
	current := ""

	swap := func(u *auth.User) {
		mu.Lock()
		defer mu.Unlock()
		next := ""
		if u != nil {
			next = u.ID
		}
		if next == current && (next == "" || detach != nil) {
			return
		}
		if detach != nil {
			detach()
			detach = nil
		}
		current = next
		if next != "" {
			detach = s.Attach(ctx, next)
		}
	}

	stop := p.OnAuthChanged(swap)
	return func() {
		stop()
		swap(nil)
	}
}

// SetLocation changes the zone used for calendar-day views and defaults.
// A nil loc restores the clock's zone.
func (s *Store) SetLocation(loc *time.Location) {
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

// Location returns the zone set with WithLocation or SetLocation, or nil.
func (s *Store) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

func (s *Store) now() time.Time {
	t := s.clock.Now()
	if loc := s.Location(); loc != nil {
		t = t.In(loc)
	}
	return t
}

// OnChange registers fn to run after every applied snapshot. The returned
// func removes it.
func (s *Store) OnChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Err returns the last subscription failure, cleared by the next
// successful snapshot of the same store.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Loading reports whether the first task or project snapshot is missing.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.tasksLoaded || !s.projectsLoaded
}

// Tasks returns a copy of all tasks, newest first.
func (s *Store) Tasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks)
}

// Projects returns a copy of all projects in display order.
func (s *Store) Projects() []task.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.projects)
}

func (s *Store) applyTasks(uid string, docs []docstore.Document) {
	tasks := make([]task.Task, 0, len(docs))
	for _, d := range docs {
		var t task.Task
		if err := docstore.Decode(d, &t); err != nil {
			s.log.Warn("skip undecodable task", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		t.ID = d.ID
		tasks = append(tasks, t)
	}

	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return
	}
	s.tasks = tasks
	s.tasksLoaded = true
	s.err = nil
	s.mu.Unlock()

	s.log.Debug("tasks snapshot", zap.String("uid", uid), zap.Int("count", len(tasks)))
	s.notify()
}

func (s *Store) applyProjects(uid string, docs []docstore.Document) {
	projects := make([]task.Project, 0, len(docs))
	for _, d := range docs {
		var p task.Project
		if err := docstore.Decode(d, &p); err != nil {
			s.log.Warn("skip undecodable project", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		p.ID = d.ID
		projects = append(projects, p)
	}

	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return
	}
	s.projects = projects
	s.projectsLoaded = true
	s.err = nil
	s.mu.Unlock()

	s.log.Debug("projects snapshot", zap.String("uid", uid), zap.Int("count", len(projects)))
	s.notify()
}

func (s *Store) fail(uid, collection string, err error) {
	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return
	}
	s.err = fmt.Errorf("%w: %s: %v", ErrSync, collection, err)
	if collection == "tasks" {
		s.tasksLoaded = true
	} else {
		s.projectsLoaded = true
	}
	s.mu.Unlock()

	s.log.Warn("subscription failed", zap.String("uid", uid), zap.String("collection", collection), zap.Error(err))
	s.notify()
}

// reset clears local state. Callers hold s.mu.
func (s *Store) reset() {
	s.uid = ""
	s.tasks = nil
	s.projects = nil
	s.tasksLoaded = false
	s.projectsLoaded = false
	s.err = nil
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// userID returns the signed-in user's id or ErrAuth.
func (s *Store) userID() (string, error) {
	if s.ident == nil {
		return "", ErrAuth
	}
	u := s.ident.CurrentUser()
	if u == nil || u.ID == "" {
		return "", ErrAuth
	}
	return u.ID, nil
}
