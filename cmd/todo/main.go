package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"calm-todo/internal/config"
	"calm-todo/internal/db"
	"calm-todo/internal/logging"
	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "todo:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "todo",
		Short: "calm-todo from the terminal",
		Long: `todo reads and changes your calm-todo tasks and projects directly in the
configured store, signed in as user.name / user.email.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to calm-todo.yaml")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON instead of short lines")

	root.AddCommand(
		newTaskCmd(opts),
		newProjectCmd(opts),
		newTodayCmd(opts),
		newOverdueCmd(opts),
		newStatsCmd(opts),
		newExportCmd(opts),
		newLoginCmd(opts),
		newPasswdCmd(opts),
	)
	return root
}

// env is one signed-in command invocation.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	user    *auth.User
	store   *aggregate.Store
	backend *db.Backend
	stop    func()
}

// now is the current time in the configured user.timezone.
func (e *env) now() time.Time {
	if loc := e.store.Location(); loc != nil {
		return time.Now().In(loc)
	}
	return time.Now()
}

func (e *env) close() {
	e.stop()
	e.backend.Close()
	e.log.Sync()
}

type runFunc func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error

// withEnv opens the store, signs in the configured user and waits for the
// first snapshots before running fn.
func withEnv(opts *options, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return err
		}
		loc, err := cfg.User.Location()
		if err != nil {
			return err
		}
		backend, err := db.Open(ctx, cfg.Store, log)
		if err != nil {
			return err
		}

		sess := auth.NewSession(backend.Users)
		store := aggregate.New(backend.Docs, sess, aggregate.WithLogger(log), aggregate.WithLocation(loc))
		e := &env{cfg: cfg, log: log, store: store, backend: backend, stop: store.Follow(ctx, sess)}
		defer e.close()

		e.user, err = sess.SignIn(ctx, cfg.User.Name, cfg.User.Email)
		if errors.Is(err, auth.ErrMissingName) {
			return errors.New("set user.name or user.email in calm-todo.yaml (or CALMTODO_USER_EMAIL)")
		}
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		if err := store.Err(); err != nil {
			return err
		}
		return fn(ctx, e, cmd, args)
	}
}

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and print an API token for the desktop UI",
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			if e.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required to issue tokens")
			}
			token, err := auth.NewIssuer(e.cfg.Auth.JWTSecret, e.cfg.Auth.TokenTTL).IssueZoned(e.user, e.cfg.User.Timezone)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "user": e.user})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n%s\n", e.user.Name, e.user.ID, token)
			return nil
		}),
	}
}

// newPasswdCmd sets the password the configured user signs in to the API
// server with. Local commands never ask for it.
func newPasswdCmd(opts *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Set the password for signing in to the API server",
		Args:  cobra.NoArgs,
		RunE: withEnv(opts, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			if password == "" {
				password = e.cfg.User.Password
			}
			if password == "" {
				return errors.New("pass --password or set user.password")
			}
			if err := auth.SetPassword(ctx, e.backend.Users, e.user.ID, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password set for %s\n", e.user.Name)
			return nil
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (default user.password)")
	return cmd
}
