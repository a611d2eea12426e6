// Package results is the terminal-outcome cache. Writes are create-only
// and keyed by task id, which is what makes queue redelivery idempotent:
// the first worker to finish a task wins, every later attempt sees the
// stored outcome and skips reprocessing.
package results

import (
	"context"
	"errors"

	"github.com/presenceio/presenced/internal/pipeline"
)

// ErrAlreadyWritten is returned by Put when the task already has a terminal
// outcome. Callers must treat the stored outcome as authoritative and never
// overwrite it.
var ErrAlreadyWritten = errors.New("result already written")

// Store persists terminal outcomes with a bounded retention TTL.
type Store interface {
	// Put stores the outcome unless one already exists for the task id,
	// in which case it returns ErrAlreadyWritten.
	Put(ctx context.Context, outcome *pipeline.Outcome) error
	// Get returns the stored outcome and whether one exists.
	Get(ctx context.Context, taskID string) (*pipeline.Outcome, bool, error)
}
