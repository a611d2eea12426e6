package match

import (
	"context"
	"errors"
	"testing"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/store"
)

func testMatcher(t *testing.T, templates ...store.IdentityTemplate) (*Matcher, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, tpl := range templates {
		if err := mem.Upsert(context.Background(), tpl); err != nil {
			t.Fatalf("failed to seed template: %v", err)
		}
	}
	return NewMatcher(mem, config.MatchingConfig{RecognitionThreshold: 0.6}), mem
}

func TestIdentifyEmptyPool(t *testing.T) {
	m, _ := testMatcher(t)

	result, err := m.Identify(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Error("empty pool must never match")
	}
}

func TestIdentifyPicksBestAboveThreshold(t *testing.T) {
	m, _ := testMatcher(t,
		store.IdentityTemplate{SubjectID: "E100", SubjectName: "Jana Dvorak", Embedding: []float32{1, 0, 0}},
		store.IdentityTemplate{SubjectID: "E200", SubjectName: "Petr Svoboda", Embedding: []float32{0, 1, 0}},
	)

	// Probe much closer to E100 than to E200.
	result, err := m.Identify(context.Background(), []float32{0.95, 0.05, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched {
		t.Fatalf("expected a match, got %+v", result)
	}
	if result.SubjectID != "E100" {
		t.Errorf("SubjectID = %q; want E100", result.SubjectID)
	}
	if result.SubjectName != "Jana Dvorak" {
		t.Errorf("SubjectName = %q; want Jana Dvorak", result.SubjectName)
	}
	if result.Similarity <= 0.6 {
		t.Errorf("Similarity = %.3f; want above 0.6", result.Similarity)
	}
}

func TestIdentifyBelowThreshold(t *testing.T) {
	m, _ := testMatcher(t,
		store.IdentityTemplate{SubjectID: "E100", Embedding: []float32{1, 0, 0}},
	)

	// Orthogonal probe: similarity 0.
	result, err := m.Identify(context.Background(), []float32{0, 0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Errorf("expected no match at similarity %.3f", result.Similarity)
	}
	if result.SubjectID != "" {
		t.Errorf("non-match must not carry a subject id, got %q", result.SubjectID)
	}
}

func TestIdentifyExactThresholdIsNoMatch(t *testing.T) {
	// cos(angle) = 3/5 = 0.6 exactly for this template/probe pair.
	m, _ := testMatcher(t,
		store.IdentityTemplate{SubjectID: "E100", Embedding: []float32{3, 4, 0}},
	)

	result, err := m.Identify(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Error("similarity exactly at the threshold must not match")
	}
}

func TestIdentifyTieBreaksToLowestSubjectID(t *testing.T) {
	m, _ := testMatcher(t,
		store.IdentityTemplate{SubjectID: "E200", Embedding: []float32{1, 0, 0}},
		store.IdentityTemplate{SubjectID: "E100", Embedding: []float32{1, 0, 0}},
	)

	result, err := m.Identify(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched {
		t.Fatal("expected a match")
	}
	if result.SubjectID != "E100" {
		t.Errorf("SubjectID = %q; want the tie to break to E100", result.SubjectID)
	}
}

func TestIdentifyStoreError(t *testing.T) {
	m, mem := testMatcher(t)
	mem.NeighborsError = errors.New("connection reset")

	if _, err := m.Identify(context.Background(), []float32{1, 0, 0}); err == nil {
		t.Error("expected store error to propagate")
	}
}
