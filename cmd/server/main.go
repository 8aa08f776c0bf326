package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"calm-todo/internal/api"
	"calm-todo/internal/config"
	"calm-todo/internal/db"
	"calm-todo/internal/logging"
	"calm-todo/internal/offline"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/decompose"
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
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		os.Exit(logging.Fail(log, "server stopped", err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	backend, err := db.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	var cache offline.Cache = offline.NewMemoryCache()
	if cfg.Cache.Driver == "redis" {
		client, err := db.ConnectRedis(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = offline.NewRedisCache(client)
	}
	static := offline.New(http.FileServer(http.Dir(cfg.Web.Dir)), cache, cfg.Cache.Version, log.Named("offline"))
	if n, err := static.Purge(ctx); err != nil {
		log.Warn("purge offline cache", zap.Error(err))
	} else if n > 0 {
		log.Info("purged offline cache", zap.Int("generations", n))
	}
	if err := static.Warm(ctx, "/"); err != nil {
		log.Warn("warm offline cache", zap.Error(err))
	}

	planner, err := newPlanner(cfg.Decompose, log)
	if err != nil {
		return err
	}

	server := api.New(api.Options{
		Docs:    backend.Docs,
		Users:   backend.Users,
		Issuer:  auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Planner: planner,
		Static:  static,
		Log:     log.Named("api"),

		SessionIdle: cfg.Server.SessionIdle,
	})
	defer server.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Store.Driver != "memory" && cfg.Store.PollInterval > 0 {
		g.Go(func() error {
			backend.Docs.Poll(ctx, cfg.Store.PollInterval)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("calm-todo listening", zap.String("addr", httpServer.Addr), zap.String("store", cfg.Store.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		static.Wait()
		return err
	})
	return g.Wait()
}

// newPlanner builds the decomposition backend. Without an OpenAI key the
// openai provider is disabled rather than failing startup.
func newPlanner(cfg config.DecomposeConfig, log *zap.Logger) (api.Planner, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			log.Warn("decompose.openai_key not set; task decomposition disabled")
			return nil, nil
		}
		gen, err := decompose.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		return decompose.NewPlanner(gen, log.Named("decompose")), nil
	case "claude":
		return decompose.NewPlanner(decompose.ClaudeCLI{Dir: cfg.ClaudeDir}, log.Named("decompose")), nil
	default:
		return nil, nil
	}
}
