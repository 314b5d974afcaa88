package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/dans3367/pigeonpost/internal/activity"
	"github.com/dans3367/pigeonpost/internal/callback"
	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/email"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/repository"
	"github.com/dans3367/pigeonpost/internal/sweep"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting Pigeonpost worker")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	runRepo := repository.NewRunRepository(db)
	taskRepo := repository.NewTaskRepository(db, cfg.Delivery.LockLease)
	intentRepo := repository.NewIntentRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	// Initialize the email gateway
	gateway, err := email.NewGatewayFromConfig(context.Background(), cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email providers")
	}
	limiter := email.NewLimiter(rdb, cfg.Delivery.ProviderConcurrency)
	log.Info().Str("primary", cfg.Email.Primary).Str("secondary", cfg.Email.Secondary).Msg("email gateway initialized")

	// Initialize the workflow engine and its worker pool
	exec := activity.NewExecutor(log)
	policies := activity.PoliciesFromConfig(cfg.Retry)
	engine := workflow.NewEngine(runRepo, taskRepo, exec, policies, workflow.Options{
		WorkerCount:  cfg.Delivery.WorkerCount,
		PollInterval: cfg.Delivery.PollInterval,
		LockLease:    cfg.Delivery.LockLease,
	}, log)

	callbacks := callback.NewClient(cfg.Callback, log)
	acts := delivery.NewActivities(gateway, limiter, intentRepo, reminderRepo, callbacks, log)
	delivery.Register(engine, acts)

	// Schedule the stuck-intent sweep
	sweeper := sweep.NewSweeper(intentRepo, engine, cfg.Delivery, log)
	runner := cron.New()
	if _, err := sweeper.Schedule(runner, cfg.Delivery.SweepSchedule); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Delivery.SweepSchedule).Msg("invalid sweep schedule")
	}
	runner.Start()
	log.Info().Str("schedule", cfg.Delivery.SweepSchedule).Msg("sweep scheduled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("workers", cfg.Delivery.WorkerCount).Msg("worker pool running")
	engine.Run(ctx)

	log.Info().Msg("shutting down worker...")
	<-runner.Stop().Done()
	log.Info().Msg("worker stopped")
}
