package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dans3367/pigeonpost/internal/activity"
	"github.com/dans3367/pigeonpost/internal/callback"
	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/email"
	"github.com/dans3367/pigeonpost/internal/handler"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/middleware"
	"github.com/dans3367/pigeonpost/internal/repository"
	"github.com/dans3367/pigeonpost/internal/router"
	"github.com/dans3367/pigeonpost/internal/schedule"
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
	log.Info().Str("version", "0.1.0").Msg("starting Pigeonpost server")

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
	activityLogRepo := repository.NewActivityLogRepository(db)

	// Initialize the email gateway
	gateway, err := email.NewGatewayFromConfig(context.Background(), cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email providers")
	}
	limiter := email.NewLimiter(rdb, cfg.Delivery.ProviderConcurrency)
	log.Info().Str("primary", cfg.Email.Primary).Str("secondary", cfg.Email.Secondary).Msg("email gateway initialized")

	// Initialize the workflow engine. The server only submits, queries and
	// cancels runs; the worker binary runs the pool that executes them.
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
	log.Info().Msg("workflow engine initialized")

	// Initialize the reminder registry
	registry := schedule.NewRegistry(engine, reminderRepo, log)

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, engine, registry, intentRepo, activityLogRepo)

	// Initialize middleware
	mw := middleware.New(cfg, log, rdb)

	// Set up router
	r := router.New(h, mw)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
