// Package decompose asks a language model to split a task into subtasks and
// creates them under the original task.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"calm-todo/pkg/task"
)

// MaxSubtasks caps how many subtasks one plan may create.
const MaxSubtasks = 8

// ErrAtomic is returned by Plan when the model judges the task too small
// to split.
var ErrAtomic = errors.New("task is already atomic")

// Categories a subtask may be tagged with.
var Categories = []string{"research", "setup", "implementation", "testing", "review", "documentation"}

// Efforts a subtask may be estimated at.
var Efforts = []string{"15 min", "30 min", "1 hour", "1-2 hours", "2-3 hours", "half day"}

// Subtask is one step of a decomposed task.
type Subtask struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Effort   string `json:"effort"`
}

// Generator turns a prompt into model output.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const systemPrompt = `You are a productivity coach breaking a personal task into small, concrete steps.

Rules:
1. Each step should take one sitting and start with a verb.
2. Order the steps the way they should be done.
3. Maximum 8 steps.
4. Tag each step with a category: research, setup, implementation, testing, review or documentation.
5. Estimate each step's effort as one of: 15 min, 30 min, 1 hour, 1-2 hours, 2-3 hours, half day.

Output format, one tag per step, each on its own line:
[TASK:title|category|effort]

If the task is already a single small step, output exactly:
[ATOMIC]

Example:
[TASK:Collect last quarter's numbers|research|30 min]
[TASK:Draft the report outline|implementation|1 hour]

Output ONLY the [TASK:...] tags or [ATOMIC], nothing else.`

// Planner splits tasks with a Generator.
type Planner struct {
	gen     Generator
	log     *zap.Logger
	timeout time.Duration
}

// NewPlanner creates a Planner. A nil logger discards output.
func NewPlanner(gen Generator, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{gen: gen, log: log, timeout: 2 * time.Minute}
}

// Plan asks the model to split t into at most MaxSubtasks subtasks.
func (p *Planner) Plan(ctx context.Context, t task.Task) ([]Subtask, error) {
	prompt := fmt.Sprintf("Split this task into steps.\n\nTitle: %s\n", t.Title)
	if t.Description != "" {
		prompt += fmt.Sprintf("\nDescription:\n%s\n", t.Description)
	}
	if len(t.Tags) > 0 {
		prompt += fmt.Sprintf("\nTags: %s\n", strings.Join(t.Tags, ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.gen.Generate(ctx, systemPrompt+"\n\n---\n\n"+prompt)
	if err != nil {
		return nil, fmt.Errorf("plan invocation: %w", err)
	}

	subtasks := parseSubtasks(out)
	if len(subtasks) == 0 {
		if strings.Contains(out, "[ATOMIC]") {
			return nil, ErrAtomic
		}
		return nil, fmt.Errorf("plan produced no subtasks from response: %s", truncate(out, 500))
	}
	if len(subtasks) > MaxSubtasks {
		p.log.Info("plan capped", zap.String("task", t.ID), zap.Int("had", len(subtasks)))
		subtasks = subtasks[:MaxSubtasks]
	}
	return subtasks, nil
}

// Creator stores new tasks.
type Creator interface {
	CreateTask(ctx context.Context, in task.Input) (string, error)
}

// Apply creates subs as children of parent, inheriting its project, priority
// and due date. It stops at the first failure and returns the ids created
// so far.
func Apply(ctx context.Context, c Creator, parent task.Task, subs []Subtask) ([]string, error) {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		id, err := c.CreateTask(ctx, task.Input{
			Title:       s.Title,
			Description: "Effort: " + s.Effort,
			DueDate:     parent.DueDate,
			Priority:    parent.Priority,
			Tags:        []string{s.Category},
			ProjectID:   parent.ProjectID,
			ParentID:    parent.ID,
		})
		if err != nil {
			return ids, fmt.Errorf("create subtask %q: %w", s.Title, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// taskTagRe matches [TASK:title|category|effort] tags.
var taskTagRe = regexp.MustCompile(`\[TASK:([^|\]]+)\|([^|\]]+)\|([^]]+)\]`)

func parseSubtasks(response string) []Subtask {
	var subtasks []Subtask
	for _, m := range taskTagRe.FindAllStringSubmatch(response, -1) {
		title := strings.TrimSpace(m[1])
		if title == "" {
			continue
		}
		subtasks = append(subtasks, Subtask{
			Title:    title,
			Category: oneOf(strings.ToLower(strings.TrimSpace(m[2])), Categories, "implementation"),
			Effort:   oneOf(strings.ToLower(strings.TrimSpace(m[3])), Efforts, "30 min"),
		})
	}
	return subtasks
}

func oneOf(v string, allowed []string, fallback string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
