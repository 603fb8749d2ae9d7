package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/podushkina/taskpool/internal/api"
	"github.com/podushkina/taskpool/internal/config"
	"github.com/podushkina/taskpool/internal/handlers"
	"github.com/podushkina/taskpool/internal/janitor"
	"github.com/podushkina/taskpool/internal/logger"
	"github.com/podushkina/taskpool/internal/queue"
	"github.com/podushkina/taskpool/internal/registry"
	"github.com/podushkina/taskpool/internal/service"
	"github.com/podushkina/taskpool/internal/store"
	"github.com/podushkina/taskpool/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	q, closeQueue, err := newQueue(cfg)
	if err != nil {
		return err
	}
	defer closeQueue()
	log.Info("queue ready", "backend", cfg.Queue.Backend)

	reg := registry.New()
	if err := handlers.Register(reg); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	st := store.New()
	svc := service.New(reg, st, q, log)
	pool := worker.NewPool(q, reg, st, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(context.Background(), cfg.Worker.Count); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer pool.Stop()

	if cfg.Janitor.Enabled {
		j := janitor.New(svc, cfg.Janitor.Schedule, cfg.Janitor.Retention, log)
		if err := j.Start(); err != nil {
			return err
		}
		defer j.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(api.NewHandler(svc, pool)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newQueue(cfg *config.Config) (queue.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case "redis":
		q, err := queue.NewRedis(queue.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Key:          cfg.Queue.Key,
			PollInterval: cfg.Queue.PollInterval,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return q, func() { q.Close() }, nil
	default:
		return queue.NewMemory(cfg.Queue.Capacity), func() {}, nil
	}
}
