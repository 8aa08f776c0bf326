package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
)

// DefaultSessionIdle is how long an unused session stays attached.
const DefaultSessionIdle = 30 * time.Minute

// Sessions keeps one attached aggregate store per signed-in user. Sessions
// nobody holds are closed after idle.
type Sessions struct {
	docs  aggregate.Docs
	users auth.Store
	log   *zap.Logger
	opts  []aggregate.Option
	idle  time.Duration
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	byUser map[string]*session
}

type session struct {
	auth     *auth.Session
	store    *aggregate.Store
	stop     func()
	refs     int
	lastUsed time.Time
}

// NewSessions creates an empty registry. An idle of zero or less keeps
// sessions until sign-out.
func NewSessions(docs aggregate.Docs, users auth.Store, log *zap.Logger, idle time.Duration, opts ...aggregate.Option) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Sessions{
		docs:   docs,
		users:  users,
		log:    log,
		opts:   append([]aggregate.Option{aggregate.WithLogger(log)}, opts...),
		idle:   idle,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		byUser: make(map[string]*session),
	}
	if idle > 0 {
		go r.janitor()
	} else {
		close(r.done)
	}
	return r
}

// SignIn checks the credentials, registering a new identity, and opens the
// user's session.
func (r *Sessions) SignIn(ctx context.Context, name, email, password string) (*auth.User, error) {
	u, err := auth.Authenticate(ctx, r.users, name, email, password)
	if err != nil {
		return nil, err
	}
	_, release := r.Acquire(u)
	release()
	return u, nil
}

// Acquire returns u's aggregate store, attaching it on first use, and a
// release func the caller must run when done with the store. Held sessions
// are never swept.
func (r *Sessions) Acquire(u *auth.User) (*aggregate.Store, func()) {
	r.mu.Lock()
	if s, ok := r.byUser[u.ID]; ok {
		s.refs++
		r.mu.Unlock()
		return s.store, r.releaser(s)
	}
	r.mu.Unlock()

	fresh := r.open(u)

	r.mu.Lock()
	if s, ok := r.byUser[u.ID]; ok {
		s.refs++
		r.mu.Unlock()
		fresh.stop()
		return s.store, r.releaser(s)
	}
	fresh.refs = 1
	r.byUser[u.ID] = fresh
	r.mu.Unlock()
	r.log.Info("session opened", zap.String("uid", u.ID), zap.String("name", u.Name))
	return fresh.store, r.releaser(fresh)
}

func (r *Sessions) open(u *auth.User) *session {
	sess := auth.NewSession(r.users)
	sess.Restore(u)
	st := aggregate.New(r.docs, sess, r.opts...)
	return &session{auth: sess, store: st, stop: st.Follow(r.ctx, sess)}
}

func (r *Sessions) releaser(s *session) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			s.refs--
			s.lastUsed = r.now()
			r.mu.Unlock()
		})
	}
}

// SignOut closes uid's session. It reports whether one was open.
func (r *Sessions) SignOut(ctx context.Context, uid string) bool {
	r.mu.Lock()
	s, ok := r.byUser[uid]
	delete(r.byUser, uid)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.auth.SignOut(ctx); err != nil {
		r.log.Warn("sign out", zap.String("uid", uid), zap.Error(err))
	}
	s.stop()
	r.log.Info("session closed", zap.String("uid", uid))
	return true
}

// Sweep closes sessions that nobody holds and that were last released
// idle or more before now. It returns how many were closed.
func (r *Sessions) Sweep(now time.Time) int {
	if r.idle <= 0 {
		return 0
	}
	var stale []*session
	r.mu.Lock()
	for uid, s := range r.byUser {
		if s.refs == 0 && now.Sub(s.lastUsed) >= r.idle {
			stale = append(stale, s)
			delete(r.byUser, uid)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.stop()
	}
	if len(stale) > 0 {
		r.log.Info("idle sessions closed", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (r *Sessions) janitor() {
	defer close(r.done)
	every := r.idle / 2
	if every > time.Minute {
		every = time.Minute
	}
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Len returns the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Close detaches every session and stops the janitor.
func (r *Sessions) Close() {
	r.mu.Lock()
	open := r.byUser
	r.byUser = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range open {
		s.stop()
	}
	r.cancel()
	<-r.done
}
