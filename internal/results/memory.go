package results

import (
	"context"
	"sync"

	"github.com/presenceio/presenced/internal/pipeline"
)

// MemoryStore is an in-process Store used in tests and by the orchestrator
// test harness. It ignores TTL.
type MemoryStore struct {
	mu       sync.Mutex
	outcomes map[string]*pipeline.Outcome

	// Error injection for failure-path tests.
	PutError error
	GetError error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[string]*pipeline.Outcome)}
}

func (s *MemoryStore) Put(_ context.Context, outcome *pipeline.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PutError != nil {
		return s.PutError
	}
	if _, exists := s.outcomes[outcome.TaskID]; exists {
		return ErrAlreadyWritten
	}
	clone := *outcome
	s.outcomes[outcome.TaskID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, taskID string) (*pipeline.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetError != nil {
		return nil, false, s.GetError
	}
	outcome, ok := s.outcomes[taskID]
	if !ok {
		return nil, false, nil
	}
	clone := *outcome
	return &clone, true, nil
}

// Len reports how many outcomes are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}
