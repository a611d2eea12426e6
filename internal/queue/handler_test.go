package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/presenceio/presenced/internal/pipeline"
	"github.com/presenceio/presenced/internal/results"
)

type fakeProcessor struct {
	outcome *pipeline.Outcome
	calls   int
}

func (f *fakeProcessor) Process(_ context.Context, task *pipeline.Task) *pipeline.Outcome {
	f.calls++
	if f.outcome != nil {
		return f.outcome
	}
	return &pipeline.Outcome{
		TaskID: task.ID,
		Kind:   task.Kind,
		Status: pipeline.StatusVerifyNoMatch,
	}
}

func taskMessage(t *testing.T, task *pipeline.Task) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("failed to marshal task: %v", err)
	}
	return asynq.NewTask(TaskTypeProcess, payload)
}

func TestHandlerStoresOutcomeAndAcks(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	h := NewHandler(processor, store, nil)

	task := &pipeline.Task{ID: "task-1", Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	if err := h.ProcessTask(context.Background(), taskMessage(t, task)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if processor.calls != 1 {
		t.Errorf("processor calls = %d; want 1", processor.calls)
	}
	outcome, found, err := store.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a stored outcome")
	}
	if outcome.Status != pipeline.StatusVerifyNoMatch {
		t.Errorf("status = %s; want verify_no_match", outcome.Status)
	}
}

func TestHandlerSkipsRedelivery(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	h := NewHandler(processor, store, nil)

	task := &pipeline.Task{ID: "task-1", Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	msg := taskMessage(t, task)

	if err := h.ProcessTask(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.ProcessTask(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	if processor.calls != 1 {
		t.Errorf("processor calls = %d; want redelivery to skip processing", processor.calls)
	}
	if store.Len() != 1 {
		t.Errorf("stored outcomes = %d; want 1", store.Len())
	}
}

func TestHandlerDropsUndecodablePayload(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	h := NewHandler(processor, store, nil)

	msg := asynq.NewTask(TaskTypeProcess, []byte("not json"))
	if err := h.ProcessTask(context.Background(), msg); err != nil {
		t.Fatalf("undecodable payload must be acked, got %v", err)
	}
	if processor.calls != 0 {
		t.Error("processor must not run for an undecodable payload")
	}
}

func TestHandlerDropsMissingTaskID(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	h := NewHandler(processor, store, nil)

	task := &pipeline.Task{Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	if err := h.ProcessTask(context.Background(), taskMessage(t, task)); err != nil {
		t.Fatalf("task without id must be acked, got %v", err)
	}
	if processor.calls != 0 {
		t.Error("processor must not run without a task id")
	}
	if store.Len() != 0 {
		t.Error("nothing should be stored without a task id")
	}
}

func TestHandlerRetriesOnResultStoreFailure(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	store.GetError = errors.New("redis gone")
	h := NewHandler(processor, store, nil)

	task := &pipeline.Task{ID: "task-1", Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	if err := h.ProcessTask(context.Background(), taskMessage(t, task)); err == nil {
		t.Fatal("expected an error so asynq redelivers")
	}
	if processor.calls != 0 {
		t.Error("processor must not run when the dedup check fails")
	}
}

func TestHandlerRetriesOnResultWriteFailure(t *testing.T) {
	processor := &fakeProcessor{}
	store := results.NewMemoryStore()
	store.PutError = errors.New("redis gone")
	h := NewHandler(processor, store, nil)

	task := &pipeline.Task{ID: "task-1", Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	if err := h.ProcessTask(context.Background(), taskMessage(t, task)); err == nil {
		t.Fatal("expected an error so asynq redelivers")
	}
}

// raceStore simulates losing the write race to a concurrent worker: the
// dedup check sees nothing, but the write reports an existing outcome.
type raceStore struct{}

func (raceStore) Get(_ context.Context, _ string) (*pipeline.Outcome, bool, error) {
	return nil, false, nil
}

func (raceStore) Put(_ context.Context, _ *pipeline.Outcome) error {
	return results.ErrAlreadyWritten
}

func TestHandlerAcksWhenConcurrentWorkerWon(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewHandler(processor, raceStore{}, nil)

	task := &pipeline.Task{ID: "task-1", Kind: pipeline.KindVerify, Images: [][]byte{[]byte("img")}}
	if err := h.ProcessTask(context.Background(), taskMessage(t, task)); err != nil {
		t.Fatalf("losing the write race must still ack, got %v", err)
	}
	if processor.calls != 1 {
		t.Errorf("processor calls = %d; want 1", processor.calls)
	}
}
