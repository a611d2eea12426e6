package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/pipeline"
	"github.com/presenceio/presenced/internal/results"
)

// Processor runs one task to its terminal outcome.
type Processor interface {
	Process(ctx context.Context, task *pipeline.Task) *pipeline.Outcome
}

// Handler is the asynq task handler. It returns an error only for
// infrastructure failures that warrant redelivery; business failures become
// terminal outcomes and are acknowledged.
type Handler struct {
	processor Processor
	results   results.Store
	logger    *zap.Logger
}

func NewHandler(processor Processor, store results.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{processor: processor, results: store, logger: logger}
}

// ProcessTask handles one delivery. The order matters: check the result
// store first so a redelivered task is re-acknowledged without reprocessing,
// process, then write the outcome before acknowledging.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task pipeline.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		// No task id to report under; this is the only silent drop.
		h.logger.Error("dropping undecodable task payload", zap.Error(err))
		return nil
	}
	if task.ID == "" {
		h.logger.Error("dropping task without id")
		return nil
	}

	_, found, err := h.results.Get(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("result store lookup for task %s: %w", task.ID, err)
	}
	if found {
		h.logger.Info("task already has a terminal result, skipping",
			zap.String("task_id", task.ID))
		return nil
	}

	outcome := h.processor.Process(ctx, &task)
	if outcome.Failed() {
		h.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("failure", string(outcome.FailureKind)),
			zap.String("message", outcome.Message))
	}

	if err := h.results.Put(ctx, outcome); err != nil {
		if errors.Is(err, results.ErrAlreadyWritten) {
			// Another worker won the race; its outcome stands.
			h.logger.Warn("result already written by a concurrent worker",
				zap.String("task_id", task.ID))
			return nil
		}
		return fmt.Errorf("result store write for task %s: %w", task.ID, err)
	}
	return nil
}
