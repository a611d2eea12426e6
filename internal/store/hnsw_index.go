package store

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW index parameters for 512-dim face embeddings.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier requests extra candidates from HNSW so enough
	// survive the superseded-template filter.
	HNSWSearchMultiplier = 3
)

// HNSWIndex wraps an HNSW graph over enrolled templates, keyed by subject id.
// The graph does not support true deletion or replacement, so the byID map is
// authoritative: search results are filtered through it and distances are
// recomputed against the current template embedding.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	byID  map[string]*IdentityTemplate
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		byID: make(map[string]*IdentityTemplate),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents from a slice of templates.
func (h *HNSWIndex) Build(templates []IdentityTemplate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(templates) == 0 {
		h.graph = nil
		h.byID = make(map[string]*IdentityTemplate)
		return
	}

	g := newGraph()
	h.byID = make(map[string]*IdentityTemplate, len(templates))
	for i := range templates {
		tpl := &templates[i]
		if len(tpl.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(tpl.SubjectID, tpl.Embedding))
		h.byID[tpl.SubjectID] = tpl
	}
	h.graph = g
}

// Upsert adds or replaces a single template in the index.
func (h *HNSWIndex) Upsert(tpl IdentityTemplate) {
	if len(tpl.Embedding) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(tpl.SubjectID, tpl.Embedding))
	h.byID[tpl.SubjectID] = &tpl
}

// Delete removes a subject from the index. The graph node stays behind but is
// filtered out of every search result.
func (h *HNSWIndex) Delete(subjectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, subjectID)
}

// Search finds up to k nearest enrolled subjects to the query embedding.
// Distances are exact cosine distances against the current templates.
func (h *HNSWIndex) Search(query []float32, k int) []Neighbor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || k <= 0 {
		return nil
	}

	// Over-fetch: superseded nodes for re-enrolled or deleted subjects are
	// filtered below.
	nodes := h.graph.Search(query, k*HNSWSearchMultiplier)

	seen := make(map[string]bool, len(nodes))
	neighbors := make([]Neighbor, 0, k)
	for _, n := range nodes {
		tpl, ok := h.byID[n.Key]
		if !ok || seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		neighbors = append(neighbors, Neighbor{
			SubjectID: n.Key,
			Distance:  CosineDistance(query, tpl.Embedding),
		})
		if len(neighbors) == k {
			break
		}
	}
	// Graph order can reflect superseded vectors after a re-enrollment, so
	// re-sort on the exact distances. Ties break on subject id for
	// deterministic results.
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].SubjectID < neighbors[j].SubjectID
	})
	return neighbors
}

// Get returns the indexed template for a subject, or nil.
func (h *HNSWIndex) Get(subjectID string) *IdentityTemplate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byID[subjectID]
}

// Count returns the number of indexed subjects.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}
