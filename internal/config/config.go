package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	PromoteInterval time.Duration `env:"PROMOTE_INTERVAL" envDefault:"1s"`
	LeaseTTL        time.Duration `env:"LEASE_TTL" envDefault:"60s"`
	StoreRetries    int           `env:"STORE_RETRIES" envDefault:"2"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"200"`

	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	JobTimeout         time.Duration `env:"JOB_TIMEOUT" envDefault:"50s"`

	DefaultMaxAttempts   int   `env:"DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	DefaultBackoffBaseMs int64 `env:"DEFAULT_BACKOFF_BASE_MS" envDefault:"1000"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
