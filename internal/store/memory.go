package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory TemplateStore. It backs tests and single-node
// development runs; production deployments use the postgres implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]IdentityTemplate

	// Error injection for tests.
	UpsertError    error
	NeighborsError error
}

// NewMemoryStore creates an empty in-memory template store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]IdentityTemplate),
	}
}

// Upsert atomically replaces-or-inserts the subject's template.
func (m *MemoryStore) Upsert(ctx context.Context, tpl IdentityTemplate) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := tpl
	cp.Embedding = append([]float32(nil), tpl.Embedding...)
	m.templates[tpl.SubjectID] = cp
	return nil
}

// Get returns the subject's template, or nil if not enrolled.
func (m *MemoryStore) Get(ctx context.Context, subjectID string) (*IdentityTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[subjectID]
	if !ok {
		return nil, nil
	}
	return &tpl, nil
}

// NearestNeighbors scans all templates and returns the k nearest by cosine
// distance, nearest first, ties broken by subject id.
func (m *MemoryStore) NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]Neighbor, error) {
	if m.NeighborsError != nil {
		return nil, m.NeighborsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	neighbors := make([]Neighbor, 0, len(m.templates))
	for id, tpl := range m.templates {
		neighbors = append(neighbors, Neighbor{
			SubjectID: id,
			Distance:  CosineDistance(embedding, tpl.Embedding),
		})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].SubjectID < neighbors[j].SubjectID
	})
	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Delete removes the subject's template if present.
func (m *MemoryStore) Delete(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, subjectID)
	return nil
}

// Count returns the number of enrolled subjects.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), nil
}

// MemoryAttendance is an in-memory AttendanceRecorder for tests.
type MemoryAttendance struct {
	mu      sync.Mutex
	byTask  map[string]AttendanceRecord
	Records []AttendanceRecord

	RecordError error
}

// NewMemoryAttendance creates an empty in-memory attendance recorder.
func NewMemoryAttendance() *MemoryAttendance {
	return &MemoryAttendance{byTask: make(map[string]AttendanceRecord)}
}

// RecordIfAbsent writes the record unless one already exists for the task id.
func (m *MemoryAttendance) RecordIfAbsent(ctx context.Context, rec AttendanceRecord) (bool, error) {
	if m.RecordError != nil {
		return false, m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTask[rec.TaskID]; ok {
		return false, nil
	}
	m.byTask[rec.TaskID] = rec
	m.Records = append(m.Records, rec)
	return true, nil
}
