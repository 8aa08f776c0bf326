package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"calm-todo/internal/config"
	"calm-todo/internal/db"
	"calm-todo/internal/logging"
	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/reminder"
)

func main() {
	configPath := flag.String("config", "", "path to calm-todo.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		os.Exit(logging.Fail(log, "reminder stopped", err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := db.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	loc, err := cfg.User.Location()
	if err != nil {
		return err
	}
	sess := auth.NewSession(backend.Users)
	store := aggregate.New(backend.Docs, sess, aggregate.WithLogger(log.Named("store")), aggregate.WithLocation(loc))
	unfollow := store.Follow(ctx, sess)
	defer unfollow()

	u, err := sess.SignIn(ctx, cfg.User.Name, cfg.User.Email)
	if errors.Is(err, auth.ErrMissingName) {
		return errors.New("set user.name or user.email for the reminder daemon")
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	log.Info("reminding", zap.String("uid", u.ID), zap.String("name", u.Name))

	var ledger reminder.Ledger = reminder.NewMemoryLedger()
	if cfg.Cache.Driver == "redis" {
		client, err := db.ConnectRedis(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer client.Close()
		ledger = reminder.NewRedisLedger(client, 0)
	}

	notifiers := []reminder.Notifier{reminder.LogNotifier{Log: log.Named("notify")}}
	if cfg.Reminder.DiscordWebhook != "" {
		notifiers = append(notifiers, reminder.Discord{WebhookURL: cfg.Reminder.DiscordWebhook})
	}

	loop := reminder.New(store, ledger, notifiers, reminder.Config{
		Window:   cfg.Reminder.Window,
		Interval: cfg.Reminder.Interval,
		Overdue:  cfg.Reminder.Overdue,
		Location: loc,
	}, log.Named("reminder"))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Store.Driver != "memory" && cfg.Store.PollInterval > 0 {
		g.Go(func() error {
			backend.Docs.Poll(ctx, cfg.Store.PollInterval)
			return nil
		})
	}
	g.Go(func() error {
		loop.Run(ctx)
		return nil
	})
	return g.Wait()
}
