package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbox is the project id of tasks that belong to no project.
const Inbox = "inbox"

// Priority ranks a task.
type Priority string

const (
	High   Priority = "high"
	Medium Priority = "medium"
	Low    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case High, Medium, Low:
		return true
	}
	return false
}

// Status is the completion state of a task.
type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
)

// Frequency is the base period of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Custom  Frequency = "custom"
)

// Recurrence describes how a task repeats. It is stored and validated here;
// expanding it into concrete occurrences is left to the caller.
type Recurrence struct {
	Frequency  Frequency  `json:"frequency"`
	Interval   int        `json:"interval"`
	DaysOfWeek []int      `json:"daysOfWeek,omitempty"` // 0 = Sunday
	DayOfMonth int        `json:"dayOfMonth,omitempty"`
	EndDate    *time.Time `json:"endDate,omitempty"`
}

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid")

// Validate checks the rule's ranges.
func (r Recurrence) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Custom:
	default:
		return fmt.Errorf("%w recurrence frequency %q", ErrInvalid, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w recurrence interval %d", ErrInvalid, r.Interval)
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w recurrence weekday %d", ErrInvalid, d)
		}
	}
	if r.DayOfMonth != 0 && (r.DayOfMonth < 1 || r.DayOfMonth > 31) {
		return fmt.Errorf("%w recurrence day of month %d", ErrInvalid, r.DayOfMonth)
	}
	return nil
}

// Task represents a unit of work owned by one user.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	DueDate     *time.Time  `json:"dueDate"`
	Priority    Priority    `json:"priority"`
	Tags        []string    `json:"tags"`
	ProjectID   string      `json:"projectId"`
	ParentID    string      `json:"parentId"` // empty for top-level tasks
	Status      Status      `json:"status"`
	IsRecurring bool        `json:"isRecurring"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	Order       int         `json:"order"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// IsSubtask reports whether the task has a parent.
func (t Task) IsSubtask() bool { return t.ParentID != "" }

// Done reports whether the task is completed.
func (t Task) Done() bool { return t.Status == Completed }

// Input is the data a caller supplies to create a task.
type Input struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	DueDate     *time.Time  `json:"dueDate"`
	Priority    Priority    `json:"priority"`
	Tags        []string    `json:"tags"`
	ProjectID   string      `json:"projectId"`
	ParentID    string      `json:"parentId"`
	IsRecurring bool        `json:"isRecurring"`
	Recurrence  *Recurrence `json:"recurrence"`
}

// New builds a pending task from in, filling defaults: the due date falls
// back to 18:00 local time on now's day, priority to medium and the project
// to the inbox. ID and Order are left to the caller.
func New(in Input, now time.Time) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	t := Task{
		Title:       title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Priority:    in.Priority,
		Tags:        in.Tags,
		ProjectID:   in.ProjectID,
		ParentID:    in.ParentID,
		Status:      Pending,
		IsRecurring: in.IsRecurring,
		Recurrence:  in.Recurrence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.DueDate == nil {
		due := time.Date(now.Year(), now.Month(), now.Day(), 18, 0, 0, 0, now.Location())
		t.DueDate = &due
	}
	if t.Priority == "" {
		t.Priority = Medium
	}
	if !t.Priority.Valid() {
		return Task{}, fmt.Errorf("%w priority %q", ErrInvalid, t.Priority)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.ProjectID == "" {
		t.ProjectID = Inbox
	}
	if t.Recurrence != nil {
		if err := t.Recurrence.Validate(); err != nil {
			return Task{}, err
		}
	}
	return t, nil
}

// Fields returns the document representation of t, without the id.
func (t Task) Fields() map[string]any {
	return map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"dueDate":     timeOrNil(t.DueDate),
		"priority":    string(t.Priority),
		"tags":        t.Tags,
		"projectId":   t.ProjectID,
		"parentId":    stringOrNil(t.ParentID),
		"status":      string(t.Status),
		"isRecurring": t.IsRecurring,
		"recurrence":  recurrenceOrNil(t.Recurrence),
		"order":       t.Order,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
		"completedAt": timeOrNil(t.CompletedAt),
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func recurrenceOrNil(r *Recurrence) any {
	if r == nil {
		return nil
	}
	return *r
}
