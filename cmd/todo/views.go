package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"calm-todo/internal/config"
	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/decompose"
	"calm-todo/pkg/task"
)

func newTodayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Tasks due today",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			return printTasks(cmd.OutOrStdout(), opts, e.store, e.store.TodayTasks())
		}),
	}
}

func newOverdueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "Unfinished tasks due before today",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			return printTasks(cmd.OutOrStdout(), opts, e.store, e.store.OverdueTasks())
		}),
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Today's progress, streak and this week's completions",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			today := e.store.TodayStats()
			streak := e.store.Streak()
			weekly := e.store.WeeklyActivity()
			w := cmd.OutOrStdout()
			if opts.json {
				return printJSON(w, map[string]any{"today": today, "streak": streak, "weekly": weekly})
			}
			fmt.Fprintf(w, "today   %d/%d done\n", today.Completed, today.Total)
			fmt.Fprintf(w, "streak  %d days\n", streak)
			for _, d := range weekly {
				fmt.Fprintf(w, "%s     %s %d\n", d.Label, strings.Repeat("#", d.Count), d.Count)
			}
			return nil
		}),
	}
}

// export is the document written by the export command.
type export struct {
	User       *auth.User     `json:"user"`
	ExportedAt time.Time      `json:"exportedAt"`
	Projects   []task.Project `json:"projects"`
	Tasks      []task.Task    `json:"tasks"`
}

func newExportCmd(opts *options) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tasks and projects as YAML or JSON",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			doc := export{User: e.user, ExportedAt: time.Now(), Projects: e.store.Projects(), Tasks: e.store.Tasks()}
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeExport(w, format, doc)
		}),
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "yaml or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write instead of stdout")
	return cmd
}

// writeExport encodes doc. YAML keys follow the JSON field names.
func writeExport(w io.Writer, format string, doc export) error {
	switch format {
	case "json":
		return printJSON(w, doc)
	case "yaml", "yml":
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q: want yaml or json", format)
	}
}

func newGenerator(cfg config.DecomposeConfig) (decompose.Generator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, errors.New("decompose.openai_key is required for the openai provider")
		}
		return decompose.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	default:
		return decompose.ClaudeCLI{Dir: cfg.ClaudeDir}, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasks(w io.Writer, opts *options, st *aggregate.Store, tasks []task.Task) error {
	if opts.json {
		return printJSON(w, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return nil
	}
	for _, t := range tasks {
		mark := " "
		if t.Done() {
			mark = "x"
		}
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("Mon Jan 2 15:04")
		}
		project := ""
		if p, ok := st.ProjectByID(t.ProjectID); ok {
			project = "#" + p.Name
		}
		subs := ""
		if n := len(st.Subtasks(t.ID)); n > 0 {
			subs = fmt.Sprintf(" (+%d)", n)
		}
		fmt.Fprintf(w, "[%s] %-8s  %-6s  %-15s  %s%s %s\n",
			mark, shortID(t.ID), t.Priority, due, truncStr(t.Title, 60), subs, project)
	}
	return nil
}

func printProjects(w io.Writer, opts *options, st *aggregate.Store, projects []task.Project) error {
	if opts.json {
		return printJSON(w, projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(w, "no projects")
		return nil
	}
	for _, p := range projects {
		archived := ""
		if p.IsArchived {
			archived = " (archived)"
		}
		fmt.Fprintf(w, "%-8s  %s  %-20s  %d tasks%s\n",
			shortID(p.ID), p.Color, p.Name, len(st.TasksByProject(p.ID)), archived)
	}
	return nil
}

// shortID is the random tail of a UUIDv7; its head is a timestamp shared
// by everything created in the same minute.
func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func truncStr(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
