package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/gate"
	"github.com/presenceio/presenced/internal/inference"
	"github.com/presenceio/presenced/internal/match"
	"github.com/presenceio/presenced/internal/pipeline"
	"github.com/presenceio/presenced/internal/queue"
	"github.com/presenceio/presenced/internal/results"
	"github.com/presenceio/presenced/internal/store/postgres"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task processing worker",
	Long: `Start a worker that consumes face tasks from the queue, runs them
through the verification or enrollment pipeline, and stores the results.
Multiple workers can run side by side; the result store keeps redeliveries
idempotent.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Inference.URL == "" {
		return errors.New("INFERENCE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	templates := postgres.NewTemplateRepository(pool)
	if cfg.Database.HNSW {
		if err := templates.EnableHNSW(ctx); err != nil {
			logger.Warn("failed to build HNSW index, falling back to pgvector queries", zap.Error(err))
		} else {
			logger.Info("HNSW index ready", zap.Int("templates", templates.HNSWCount()))
		}
	}
	attendance := postgres.NewAttendanceRepository(pool)

	client := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Detector:   client,
		Embedder:   client,
		Quality:    gate.NewQualityGate(cfg.Pipeline.Quality),
		Liveness:   gate.NewLivenessGate(client, cfg.Pipeline.Liveness),
		Matcher:    match.NewMatcher(templates, cfg.Pipeline.Matching),
		Templates:  templates,
		Attendance: attendance,
		Logger:     logger,
	}, cfg.Pipeline, cfg.Embedding.Dim, cfg.Queue.TaskTimeout)

	resultClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Results.RedisAddr,
		Password: cfg.Results.RedisPassword,
		DB:       cfg.Results.RedisDB,
	})
	defer resultClient.Close()
	resultStore := results.NewRedisStore(resultClient, cfg.Results.TTL)

	handler := queue.NewHandler(orchestrator, resultStore, logger)
	consumer := queue.NewConsumer(cfg.Queue, handler, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down worker")
		consumer.Shutdown()
	}()

	logger.Info("worker started",
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.String("queue", cfg.Queue.RedisAddr))

	if err := consumer.Run(); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
