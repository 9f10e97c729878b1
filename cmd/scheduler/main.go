package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/config"
	"github.com/you/taskq/internal/notify"
	"github.com/you/taskq/internal/queue"
	schedredis "github.com/you/taskq/internal/sched/redis"
	"github.com/you/taskq/internal/store/postgres"
)

// The scheduler process owns the timers: it promotes due delayed jobs to
// the ready index and recovers expired leases. Run exactly one per
// deployment.
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
		queue.WithNotifier(notify.NewWebhook(log)),
		queue.WithLeaseTTL(cfg.LeaseTTL),
		queue.WithStoreRetries(cfg.StoreRetries),
		queue.WithBatchSize(cfg.BatchSize),
	)

	log.Info("scheduler running", zap.Duration("tick", cfg.PromoteInterval))
	if err := q.Run(ctx, cfg.PromoteInterval); err != nil && ctx.Err() == nil {
		log.Fatal("scheduler stopped", zap.Error(err))
	}
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
