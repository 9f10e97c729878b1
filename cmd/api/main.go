package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/taskq/internal/api"
	"github.com/you/taskq/internal/config"
	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/notify"
	"github.com/you/taskq/internal/queue"
	schedredis "github.com/you/taskq/internal/sched/redis"
	"github.com/you/taskq/internal/store/postgres"
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

	ctx := context.Background()

	if err := migrate(cfg.PostgresDSN); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	st := postgres.New(db)
	if err := st.Ping(ctx); err != nil {
		log.Fatal("postgres ping failed", zap.Error(err))
	}

	q := queue.New(st, schedredis.New(rdb), log,
		queue.WithNotifier(notify.NewWebhook(log)),
		queue.WithLeaseTTL(cfg.LeaseTTL),
		queue.WithStoreRetries(cfg.StoreRetries),
		queue.WithBatchSize(cfg.BatchSize),
		queue.WithDefaultRetryPolicy(domain.RetryPolicy{
			MaxAttempts:   cfg.DefaultMaxAttempts,
			BackoffBaseMs: cfg.DefaultBackoffBaseMs,
		}),
	)

	srv := api.NewServer(q, log)
	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Router()); err != nil {
		log.Fatal("api server stopped", zap.Error(err))
	}
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
