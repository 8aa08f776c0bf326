package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/decompose"
	"calm-todo/pkg/task"
)

func newTaskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(
		newTaskAddCmd(opts),
		newTaskListCmd(opts),
		newTaskDoneCmd(opts),
		newTaskRmCmd(opts),
		newTaskEditCmd(opts),
		newTaskSplitCmd(opts),
	)
	return cmd
}

func newTaskAddCmd(opts *options) *cobra.Command {
	var due, priority, tags, project, parent, desc string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task (due today at 18:00 unless --due is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			in := task.Input{
				Title:       strings.Join(args, " "),
				Description: desc,
				Priority:    task.Priority(priority),
				Tags:        splitTags(tags),
			}
			if due != "" {
				d, err := parseDue(due, e.now())
				if err != nil {
					return err
				}
				in.DueDate = &d
			}
			if project != "" {
				p, err := resolveProject(e.store, project)
				if err != nil {
					return err
				}
				in.ProjectID = p.ID
			}
			if parent != "" {
				t, err := resolveTask(e.store, parent)
				if err != nil {
					return err
				}
				in.ParentID = t.ID
			}
			id, err := e.store.CreateTask(ctx, in)
			if err != nil {
				return err
			}
			t, _ := e.store.TaskByID(id)
			return printTasks(cmd.OutOrStdout(), opts, e.store, []task.Task{t})
		}),
	}
	cmd.Flags().StringVar(&desc, "desc", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date: today, tomorrow, YYYY-MM-DD or YYYY-MM-DDTHH:MM")
	cmd.Flags().StringVar(&priority, "priority", "", "high, medium or low")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	cmd.Flags().StringVar(&project, "project", "", "project name or id")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	return cmd
}

func newTaskListCmd(opts *options) *cobra.Command {
	var project, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List top-level tasks, newest first",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			var tasks []task.Task
			if project != "" {
				id := task.Inbox
				if project != task.Inbox {
					p, err := resolveProject(e.store, project)
					if err != nil {
						return err
					}
					id = p.ID
				}
				tasks = e.store.TasksByProject(id)
			} else {
				for _, t := range e.store.Tasks() {
					if !t.IsSubtask() {
						tasks = append(tasks, t)
					}
				}
			}
			if status != "" {
				kept := tasks[:0]
				for _, t := range tasks {
					if string(t.Status) == status {
						kept = append(kept, t)
					}
				}
				tasks = kept
			}
			return printTasks(cmd.OutOrStdout(), opts, e.store, tasks)
		}),
	}
	cmd.Flags().StringVar(&project, "project", "", "only this project (name, id or inbox)")
	cmd.Flags().StringVar(&status, "status", "", "pending or completed")
	return cmd
}

func newTaskDoneCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a task between pending and completed",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			t, err := resolveTask(e.store, args[0])
			if err != nil {
				return err
			}
			if err := e.store.ToggleTaskStatus(ctx, t.ID); err != nil {
				return err
			}
			t, _ = e.store.TaskByID(t.ID)
			return printTasks(cmd.OutOrStdout(), opts, e.store, []task.Task{t})
		}),
	}
}

func newTaskRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			t, err := resolveTask(e.store, args[0])
			if err != nil {
				return err
			}
			n := len(e.store.Subtasks(t.ID))
			if err := e.store.DeleteTask(ctx, t.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q and %d subtasks\n", t.Title, n)
			return nil
		}),
	}
}

func newTaskEditCmd(opts *options) *cobra.Command {
	var title, desc, due, priority, tags, project string
	var noDue bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			t, err := resolveTask(e.store, args[0])
			if err != nil {
				return err
			}
			var p task.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &title
			}
			if flags.Changed("desc") {
				p.Description = &desc
			}
			if flags.Changed("priority") {
				pr := task.Priority(priority)
				p.Priority = &pr
			}
			if flags.Changed("tags") {
				ts := splitTags(tags)
				p.Tags = &ts
			}
			if flags.Changed("project") {
				id := task.Inbox
				if project != task.Inbox && project != "" {
					proj, err := resolveProject(e.store, project)
					if err != nil {
						return err
					}
					id = proj.ID
				}
				p.ProjectID = &id
			}
			switch {
			case noDue:
				p.ClearDueDate = true
			case flags.Changed("due"):
				d, err := parseDue(due, e.now())
				if err != nil {
					return err
				}
				p.DueDate = &d
			}
			if p.Empty() {
				return errors.New("nothing to change")
			}
			if err := e.store.UpdateTask(ctx, t.ID, p); err != nil {
				return err
			}
			t, _ = e.store.TaskByID(t.ID)
			return printTasks(cmd.OutOrStdout(), opts, e.store, []task.Task{t})
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&desc, "desc", "", "new description")
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	cmd.Flags().BoolVar(&noDue, "no-due", false, "remove the due date")
	cmd.Flags().StringVar(&priority, "priority", "", "high, medium or low")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags, replacing the current ones")
	cmd.Flags().StringVar(&project, "project", "", "move to project (name, id or inbox)")
	return cmd
}

func newTaskSplitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "split <id>",
		Short: "Ask the configured model to split a task into subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			t, err := resolveTask(e.store, args[0])
			if err != nil {
				return err
			}
			gen, err := newGenerator(e.cfg.Decompose)
			if err != nil {
				return err
			}
			subs, err := decompose.NewPlanner(gen, e.log).Plan(ctx, t)
			if errors.Is(err, decompose.ErrAtomic) {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is already a single step\n", t.Title)
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := decompose.Apply(ctx, e.store, t, subs); err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), opts, e.store, e.store.Subtasks(t.ID))
		}),
	}
}

// resolveTask finds a task by id or a unique id prefix or suffix.
func resolveTask(st *aggregate.Store, ref string) (task.Task, error) {
	if t, ok := st.TaskByID(ref); ok {
		return t, nil
	}
	var found []task.Task
	for _, t := range st.Tasks() {
		if matchID(t.ID, ref) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return task.Task{}, fmt.Errorf("task %s: %w", ref, aggregate.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return task.Task{}, fmt.Errorf("task prefix %q matches %d tasks", ref, len(found))
	}
}

// resolveProject finds a project by id, unique id prefix or suffix, or
// name (case-insensitive).
func resolveProject(st *aggregate.Store, ref string) (task.Project, error) {
	if p, ok := st.ProjectByID(ref); ok {
		return p, nil
	}
	var found []task.Project
	for _, p := range st.Projects() {
		if strings.EqualFold(p.Name, ref) || matchID(p.ID, ref) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return task.Project{}, fmt.Errorf("project %s: %w", ref, aggregate.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return task.Project{}, fmt.Errorf("project %q is ambiguous (%d matches)", ref, len(found))
	}
}

func matchID(id, ref string) bool {
	return ref != "" && (strings.HasPrefix(id, ref) || strings.HasSuffix(id, ref))
}

// parseDue reads today, tomorrow, a date (due 18:00 that day) or a local
// date and time.
func parseDue(s string, now time.Time) (time.Time, error) {
	at6 := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), 18, 0, 0, 0, now.Location())
	}
	switch strings.ToLower(s) {
	case "today":
		return at6(now), nil
	case "tomorrow":
		return at6(now.AddDate(0, 0, 1)), nil
	}
	if d, err := time.ParseInLocation("2006-01-02T15:04", s, now.Location()); err == nil {
		return d, nil
	}
	if d, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return at6(d), nil
	}
	return time.Time{}, fmt.Errorf("due %q: want today, tomorrow, YYYY-MM-DD or YYYY-MM-DDTHH:MM", s)
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
