// Package app assembles weekplate's services from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/config"
	"github.com/dukerupert/weekplate/internal/database"
	"github.com/dukerupert/weekplate/internal/email"
	"github.com/dukerupert/weekplate/internal/mealplan"
	"github.com/dukerupert/weekplate/internal/push"
	"github.com/dukerupert/weekplate/internal/queue"
	"github.com/dukerupert/weekplate/internal/ratelimit"
	"github.com/dukerupert/weekplate/internal/render"
	"github.com/dukerupert/weekplate/internal/server"
	"github.com/dukerupert/weekplate/internal/store"
	ws "github.com/dukerupert/weekplate/internal/websocket"
)

type App struct {
	DB        *sql.DB
	Artifacts artifact.Store
	MealPlans *mealplan.Service
	Task      *mealplan.Task
	Worker    *queue.Worker
	Hub       *ws.Hub
	Push      *push.Service
	Server    *server.Server

	redis  *redis.Client
	logger *slog.Logger
}

// New opens the database and wires every component. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &App{DB: db, logger: logger}

	artifacts, err := NewArtifactStore(cfg.Artifact)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Artifacts = artifacts

	limiter, err := a.newLimiter(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	plans := store.NewMealPlanStore(db)
	logs := store.NewGenerationLogStore(db)
	jobs := store.NewJobStore(db)
	clock := mealplan.SystemClock{}

	a.Hub = ws.NewHub(logger.With("component", "websocket"))
	a.Push = push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
	})
	pushNotifier := push.NewNotifier(a.Push, store.NewPushStore(db), logger)
	mailer := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
	emailNotifier := email.NewNotifier(mailer, store.NewUserStore(db), cfg.Email.BaseURL, logger)

	a.Task = mealplan.NewTask(plans, logs, artifacts, render.NewPDFRenderer(nil), clock, logger, a.Hub, pushNotifier, emailNotifier)

	a.Worker = queue.NewWorker(jobs, queue.Config{
		Concurrency:  cfg.Worker.Concurrency,
		BaseBackoff:  cfg.Worker.BaseBackoff,
		MaxBackoff:   cfg.Worker.MaxBackoff,
		PollInterval: cfg.Worker.PollInterval,
		Lease:        cfg.Worker.Lease,
	}, logger)
	a.Worker.Register(mealplan.JobKindGenerate, mealplan.NewGenerateHandler(a.Task))

	admission := mealplan.NewAdmission(plans, limiter, clock, cfg.Location())
	a.MealPlans = mealplan.NewService(plans, logs, admission, queue.New(jobs, cfg.Worker.MaxAttempts), artifacts, logger)

	a.Server = server.New(server.Deps{
		DB:             db,
		MealPlans:      a.MealPlans,
		Hub:            a.Hub,
		Push:           a.Push,
		SecureCookies:  cfg.Server.SecureCookies,
		OriginPatterns: cfg.Server.OriginPatterns,
		Logger:         logger,
	})

	return a, nil
}

// NewArtifactStore builds the configured document store.
func NewArtifactStore(cfg config.ArtifactConfig) (artifact.Store, error) {
	switch cfg.Backend {
	case "s3":
		return artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	case "file", "":
		return artifact.NewFileStore(cfg.Dir)
	}
	return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
}

// newLimiter uses Redis when an address is configured so that every process
// shares the same counters.
func (a *App) newLimiter(ctx context.Context, cfg config.RedisConfig) (ratelimit.Limiter, error) {
	if cfg.Addr == "" {
		a.logger.Warn("redis not configured, rate limits are per process")
		return ratelimit.NewMemory(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return ratelimit.NewRedis(a.redis, "weekplate:ratelimit"), nil
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
