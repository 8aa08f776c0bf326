package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"calm-todo/pkg/task"
)

func newProjectCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		newProjectAddCmd(opts),
		newProjectListCmd(opts),
		newProjectArchiveCmd(opts),
		newProjectRmCmd(opts),
	)
	return cmd
}

func newProjectAddCmd(opts *options) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			id, err := e.store.CreateProject(ctx, task.ProjectInput{Name: args[0], Color: color})
			if err != nil {
				return err
			}
			p, _ := e.store.ProjectByID(id)
			return printProjects(cmd.OutOrStdout(), opts, e.store, []task.Project{p})
		}),
	}
	cmd.Flags().StringVar(&color, "color", "", "hex color (picked from the palette when empty)")
	return cmd
}

func newProjectListCmd(opts *options) *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			projects := e.store.ActiveProjects()
			if archived {
				projects = e.store.Projects()
			}
			return printProjects(cmd.OutOrStdout(), opts, e.store, projects)
		}),
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived projects")
	return cmd
}

func newProjectArchiveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <project>",
		Short: "Archive a project",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			p, err := resolveProject(e.store, args[0])
			if err != nil {
				return err
			}
			if err := e.store.ArchiveProject(ctx, p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", p.Name)
			return nil
		}),
	}
}

func newProjectRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <project>",
		Short: "Delete a project; its tasks stay where they are",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			p, err := resolveProject(e.store, args[0])
			if err != nil {
				return err
			}
			if err := e.store.DeleteProject(ctx, p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", p.Name)
			return nil
		}),
	}
}
