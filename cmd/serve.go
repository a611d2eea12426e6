package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/queue"
	"github.com/presenceio/presenced/internal/results"
	"github.com/presenceio/presenced/internal/store"
	"github.com/presenceio/presenced/internal/store/postgres"
	"github.com/presenceio/presenced/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the task API server",
	Long: `Start the HTTP API that accepts face tasks, enqueues them for the
workers, and serves task results and a health probe.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	producer := queue.NewProducer(cfg.Queue)
	defer producer.Close()

	resultClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Results.RedisAddr,
		Password: cfg.Results.RedisPassword,
		DB:       cfg.Results.RedisDB,
	})
	defer resultClient.Close()
	resultStore := results.NewRedisStore(resultClient, cfg.Results.TTL)

	// The template store only feeds the health endpoint here; the API
	// still works without a database.
	var templates store.TemplateStore
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer pool.Close()
		if err := pool.Migrate(context.Background()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		templates = postgres.NewTemplateRepository(pool)
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(host, port, producer, resultStore, templates, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
