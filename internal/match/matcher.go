// Package match resolves a face embedding to an enrolled identity by
// nearest-neighbor search over the template store.
package match

import (
	"context"
	"fmt"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/store"
)

// candidateCount is how many neighbors the matcher pulls from the store.
// The store orders by distance with subject id as tie-break, so the first
// neighbor is authoritative; the rest go into the report for debugging.
const candidateCount = 5

// Result is the identity decision for one probe embedding.
type Result struct {
	Matched     bool             `json:"matched"`
	SubjectID   string           `json:"subject_id,omitempty"`
	SubjectName string           `json:"subject_name,omitempty"`
	Similarity  float64          `json:"similarity"`
	Candidates  []store.Neighbor `json:"candidates,omitempty"`
}

// Matcher compares probe embeddings against every enrolled template and
// accepts the best candidate only when its similarity clears the
// recognition threshold.
type Matcher struct {
	templates store.TemplateStore
	cfg       config.MatchingConfig
}

func NewMatcher(templates store.TemplateStore, cfg config.MatchingConfig) *Matcher {
	return &Matcher{templates: templates, cfg: cfg}
}

// Identify finds the enrolled subject closest to the probe embedding.
// An empty template pool yields a non-match, not an error. When two
// templates score identically the lower subject id wins, which the store
// guarantees by its neighbor ordering.
func (m *Matcher) Identify(ctx context.Context, embedding []float32) (Result, error) {
	neighbors, err := m.templates.NearestNeighbors(ctx, embedding, candidateCount)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search templates: %w", err)
	}
	if len(neighbors) == 0 {
		return Result{}, nil
	}

	best := neighbors[0]
	similarity := 1 - best.Distance
	result := Result{
		Similarity: similarity,
		Candidates: neighbors,
	}
	if similarity <= m.cfg.RecognitionThreshold {
		return result, nil
	}

	result.Matched = true
	result.SubjectID = best.SubjectID
	if tpl, err := m.templates.Get(ctx, best.SubjectID); err == nil && tpl != nil {
		result.SubjectName = tpl.SubjectName
	}
	return result, nil
}
