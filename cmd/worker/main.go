package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/config"
	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/queue"
	schedredis "github.com/you/taskq/internal/sched/redis"
	"github.com/you/taskq/internal/store/postgres"
	"github.com/you/taskq/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := buildLogger(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	q := queue.New(postgres.New(db), schedredis.New(rdb), log,
		queue.WithLeaseTTL(cfg.LeaseTTL),
		queue.WithStoreRetries(cfg.StoreRetries),
	)

	reg := worker.NewRegistry()
	// Handlers are registered per deployment; echo is the built-in smoke
	// handler that returns the payload unchanged.
	if err := reg.Register("echo", func(_ context.Context, j *domain.Job) (json.RawMessage, error) {
		return j.Payload, nil
	}); err != nil {
		log.Fatal("handler registration failed", zap.Error(err))
	}

	pool := worker.NewPool(q, reg, log,
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithPollInterval(cfg.WorkerPollInterval),
		worker.WithJobTimeout(cfg.JobTimeout),
	)

	log.Info("worker pool running",
		zap.String("worker_id", pool.WorkerID()),
		zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("worker pool stopped", zap.Error(err))
	}
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
