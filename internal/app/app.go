package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/forecast"
	"github.com/Dan9191/tsf-backend/internal/jobs"
	"github.com/Dan9191/tsf-backend/internal/repository"
	"github.com/Dan9191/tsf-backend/internal/service"
	"github.com/Dan9191/tsf-backend/internal/utils/email"
)

// NewLogger creates the JSON logger used by every binary
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// App holds the wired layers shared by the API server and the CLI
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	DB      *sql.DB
	Service *service.Service
	Store   jobs.Store
	Runner  *jobs.Runner
	Redis   *redis.Client
}

// New connects to the databases and builds the job pipeline for cfg
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.JobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs dir: %w", err)
	}

	db, err := repository.Open(ctx, cfg.DBConn, log)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRepository(db, cfg.Schema, cfg.Table)
	svc := service.NewService(repo, log, cfg)

	a := &App{Config: cfg, Log: log, DB: db, Service: svc}

	switch cfg.JobBackend {
	case "redis":
		a.Redis, err = connectRedis(ctx, cfg, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Store = jobs.NewRedisStore(a.Redis, cfg.JobRetention)
	default:
		a.Store, err = jobs.NewFileStore(cfg.JobsDir)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	var notifier jobs.Notifier
	if cfg.SMTPEnabled() {
		notifier = email.NewSender(cfg, log)
	}
	a.Runner = jobs.NewRunner(svc, forecast.NewForecaster(log), a.Store, cfg.JobsDir, notifier, log)
	return a, nil
}

func connectRedis(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	ping := func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis not reachable, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Tracker returns the job tracker of the configured backend
func (a *App) Tracker() jobs.Tracker {
	if a.Redis != nil {
		return jobs.NewQueueTracker(a.Redis, a.Store, a.Config.Heartbeat, a.Log)
	}
	return jobs.NewLocalTracker(a.Store, a.Runner, a.Config.Heartbeat, a.Log)
}

// Close releases database and Redis connections
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
