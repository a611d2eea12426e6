// Package queue is the durable ingress boundary. Tasks ride Redis via
// asynq with at-least-once delivery; a task is acknowledged only after its
// terminal outcome is durably stored, so a crashed worker just means
// redelivery, never a lost task.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/pipeline"
)

// TaskTypeProcess is the single asynq task type both kinds of work ride on;
// the payload's type field distinguishes enroll from verify.
const TaskTypeProcess = "task:process"

func redisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Producer enqueues pipeline tasks.
type Producer struct {
	client *asynq.Client
	cfg    config.QueueConfig
}

func NewProducer(cfg config.QueueConfig) *Producer {
	return &Producer{
		client: asynq.NewClient(redisOpt(cfg)),
		cfg:    cfg,
	}
}

// Enqueue publishes one task. The task id travels inside the payload; the
// consumer deduplicates redeliveries against the result store, so enqueueing
// the same id twice is safe.
func (p *Producer) Enqueue(ctx context.Context, task *pipeline.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	_, err = p.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeProcess, payload),
		asynq.MaxRetry(p.cfg.MaxRetry),
		asynq.Timeout(p.cfg.TaskTimeout))
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}

// Consumer pulls tasks off the queue and runs them through the handler.
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewConsumer(cfg config.QueueConfig, handler *Handler, logger *zap.Logger) *Consumer {
	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
		Logger:      asynqZapLogger{logger.Sugar()},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeProcess, handler.ProcessTask)

	return &Consumer{server: server, mux: mux}
}

// Run blocks until Shutdown is called.
func (c *Consumer) Run() error {
	return c.server.Run(c.mux)
}

func (c *Consumer) Shutdown() {
	c.server.Shutdown()
}

// asynqZapLogger adapts zap to asynq's logging interface.
type asynqZapLogger struct {
	s *zap.SugaredLogger
}

func (l asynqZapLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l asynqZapLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l asynqZapLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l asynqZapLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l asynqZapLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
