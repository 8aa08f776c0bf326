// Package reminder notifies about tasks that are about to fall due or are
// overdue, at most once per task, kind and channel each day.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/task"
)

// Kind distinguishes a heads-up from an overdue nag.
type Kind string

const (
	Upcoming Kind = "upcoming"
	Overdue  Kind = "overdue"
)

// Reminder is one notification to send.
type Reminder struct {
	Task task.Task
	Kind Kind
	Due  time.Time
}

// Message renders the reminder as one line of text.
func (r Reminder) Message(now time.Time) string {
	if r.Kind == Overdue {
		return fmt.Sprintf("Overdue: %q was due %s.", r.Task.Title, r.Due.In(now.Location()).Format("Mon Jan 2 15:04"))
	}
	mins := int(r.Due.Sub(now).Round(time.Minute) / time.Minute)
	return fmt.Sprintf("Reminder: %q is due in %d min (%s).", r.Task.Title, mins, r.Due.In(now.Location()).Format("15:04"))
}

// Key identifies the reminder on a channel for the day of now.
func (r Reminder) Key(channel string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s", r.Task.ID, r.Kind, channel, now.Format("2006-01-02"))
}

// Select picks the pending tasks that need a reminder at now: those due
// within window from now, and, when overdue is set, those already past due.
func Select(tasks []task.Task, now time.Time, window time.Duration, overdue bool) []Reminder {
	var out []Reminder
	for _, t := range tasks {
		if t.Done() || t.DueDate == nil {
			continue
		}
		until := t.DueDate.Sub(now)
		switch {
		case until <= 0:
			if overdue {
				out = append(out, Reminder{Task: t, Kind: Overdue, Due: *t.DueDate})
			}
		case until <= window:
			out = append(out, Reminder{Task: t, Kind: Upcoming, Due: *t.DueDate})
		}
	}
	return out
}

// Source supplies the current tasks.
type Source interface {
	Tasks() []task.Task
}

// Notifier delivers reminders on one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r Reminder, msg string) error
}

// Ledger records which reminders went out.
type Ledger interface {
	// Claim marks key as sent and reports whether it was new.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed delivery is retried.
	Release(ctx context.Context, key string) error
}

// Config tunes a Loop. Location sets the zone whose calendar day keys the
// once-per-day rule and formats messages; nil means time.Local.
type Config struct {
	Window   time.Duration
	Interval time.Duration
	Overdue  bool
	Location *time.Location
}

// Loop periodically checks a Source and sends reminders.
type Loop struct {
	src       Source
	ledger    Ledger
	notifiers []Notifier
	cfg       Config
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Loop. Zero durations default to a 30 minute window checked
// every minute.
func New(src Source, ledger Ledger, notifiers []Notifier, cfg Config, log *zap.Logger) *Loop {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{src: src, ledger: ledger, notifiers: notifiers, cfg: cfg, now: time.Now, log: log}
	if loc := cfg.Location; loc != nil {
		l.now = func() time.Time { return time.Now().In(loc) }
	}
	return l
}

// Run checks immediately, then every interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("reminder loop running", zap.Duration("interval", l.cfg.Interval), zap.Duration("window", l.cfg.Window))
	l.Tick(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("reminder loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick sends every due reminder not yet sent today and returns how many
// deliveries succeeded.
func (l *Loop) Tick(ctx context.Context) (sent int) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in reminder tick", zap.Any("panic", r))
		}
	}()

	now := l.now()
	for _, r := range Select(l.src.Tasks(), now, l.cfg.Window, l.cfg.Overdue) {
		msg := r.Message(now)
		for _, n := range l.notifiers {
			key := r.Key(n.Name(), now)
			fresh, err := l.ledger.Claim(ctx, key)
			if err != nil {
				l.log.Warn("claim reminder", zap.String("key", key), zap.Error(err))
				continue
			}
			if !fresh {
				continue
			}
			if err := n.Notify(ctx, r, msg); err != nil {
				l.log.Warn("notify", zap.String("channel", n.Name()), zap.String("task", r.Task.ID), zap.Error(err))
				if err := l.ledger.Release(ctx, key); err != nil {
					l.log.Warn("release reminder", zap.String("key", key), zap.Error(err))
				}
				continue
			}
			sent++
		}
	}
	return sent
}
