package aggregate

import (
	"time"

	"calm-todo/pkg/task"
)

// Stats counts completed tasks among today's tasks.
type Stats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// DayActivity is the number of completions on one weekday.
type DayActivity struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TaskByID returns the task with id.
func (s *Store) TaskByID(id string) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

// ProjectByID returns the project with id.
func (s *Store) ProjectByID(id string) (task.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return task.Project{}, false
}

// ActiveProjects returns the projects that are not archived.
func (s *Store) ActiveProjects() []task.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Project
	for _, p := range s.projects {
		if !p.IsArchived {
			out = append(out, p)
		}
	}
	return out
}

// TasksByProject returns the top-level tasks of a project.
func (s *Store) TasksByProject(projectID string) []task.Task {
	return s.filter(func(t task.Task) bool {
		return t.ProjectID == projectID && !t.IsSubtask()
	})
}

// Subtasks returns the direct children of a task.
func (s *Store) Subtasks(parentID string) []task.Task {
	if parentID == "" {
		return nil
	}
	return s.filter(func(t task.Task) bool { return t.ParentID == parentID })
}

// TodayTasks returns top-level tasks due on the current local day.
func (s *Store) TodayTasks() []task.Task {
	return todayTasks(s.Tasks(), s.now())
}

// OverdueTasks returns top-level pending tasks due before today.
func (s *Store) OverdueTasks() []task.Task {
	return overdueTasks(s.Tasks(), s.now())
}

// TodayStats counts completions among TodayTasks.
func (s *Store) TodayStats() Stats {
	var st Stats
	for _, t := range s.TodayTasks() {
		st.Total++
		if t.Done() {
			st.Completed++
		}
	}
	return st
}

// Streak counts consecutive days, walking back from today, with at least
// one completion. A today without completions does not break the streak.
func (s *Store) Streak() int {
	return streak(s.Tasks(), s.now())
}

// WeeklyActivity returns completions per day for the current Monday-based
// week.
func (s *Store) WeeklyActivity() []DayActivity {
	return weeklyActivity(s.Tasks(), s.now())
}

func (s *Store) filter(keep func(task.Task) bool) []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Task
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// within reports whether ts falls in [from, to).
func within(ts *time.Time, from, to time.Time) bool {
	if ts == nil {
		return false
	}
	local := ts.In(from.Location())
	return !local.Before(from) && local.Before(to)
}

func todayTasks(tasks []task.Task, now time.Time) []task.Task {
	from := startOfDay(now)
	to := from.AddDate(0, 0, 1)
	var out []task.Task
	for _, t := range tasks {
		if !t.IsSubtask() && within(t.DueDate, from, to) {
			out = append(out, t)
		}
	}
	return out
}

func overdueTasks(tasks []task.Task, now time.Time) []task.Task {
	midnight := startOfDay(now)
	var out []task.Task
	for _, t := range tasks {
		if t.IsSubtask() || t.Done() || t.DueDate == nil {
			continue
		}
		if t.DueDate.Before(midnight) {
			out = append(out, t)
		}
	}
	return out
}

func completedOn(tasks []task.Task, from, to time.Time) int {
	n := 0
	for _, t := range tasks {
		if t.Done() && within(t.CompletedAt, from, to) {
			n++
		}
	}
	return n
}

func streak(tasks []task.Task, now time.Time) int {
	today := startOfDay(now)
	day := today
	n := 0
	for {
		if completedOn(tasks, day, day.AddDate(0, 0, 1)) > 0 {
			n++
		} else if n > 0 || !day.Equal(today) {
			return n
		}
		day = day.AddDate(0, 0, -1)
	}
}

func weeklyActivity(tasks []task.Task, now time.Time) []DayActivity {
	today := startOfDay(now)
	offset := (int(today.Weekday()) + 6) % 7
	monday := today.AddDate(0, 0, -offset)

	out := make([]DayActivity, 0, 7)
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		out = append(out, DayActivity{
			Label: day.Format("Mon"),
			Count: completedOn(tasks, day, day.AddDate(0, 0, 1)),
		})
	}
	return out
}
