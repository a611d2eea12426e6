package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/presenceio/presenced/internal/store"
)

// TemplateRepository provides pgvector-backed template storage with an
// optional in-memory HNSW index for nearest-neighbor queries.
type TemplateRepository struct {
	pool        *Pool
	hnswIndex   *store.HNSWIndex
	hnswEnabled bool
	hnswMu      sync.RWMutex
}

// NewTemplateRepository creates a new PostgreSQL template repository.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Upsert atomically replaces-or-inserts the subject's template. The single
// INSERT ... ON CONFLICT statement guarantees a concurrent nearest-neighbor
// query sees either the old or the new row, never a partial one.
func (r *TemplateRepository) Upsert(ctx context.Context, tpl store.IdentityTemplate) error {
	query := `
		INSERT INTO identity_templates (subject_id, subject_name, embedding, quality_score, enrolled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE SET
			subject_name = EXCLUDED.subject_name,
			embedding = EXCLUDED.embedding,
			quality_score = EXCLUDED.quality_score,
			enrolled_at = EXCLUDED.enrolled_at
	`

	vec := pgvector.NewVector(tpl.Embedding)
	if _, err := r.pool.Exec(ctx, query, tpl.SubjectID, tpl.SubjectName, vec, tpl.QualityScore, tpl.EnrolledAt); err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}

	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled {
		r.hnswIndex.Upsert(tpl)
	}
	return nil
}

// Get returns the subject's template, or nil if not enrolled. Served from
// the in-memory index when enabled, falling back to the database on a miss.
func (r *TemplateRepository) Get(ctx context.Context, subjectID string) (*store.IdentityTemplate, error) {
	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled {
		if tpl := r.hnswIndex.Get(subjectID); tpl != nil {
			cp := *tpl
			return &cp, nil
		}
	}

	query := `
		SELECT subject_id, subject_name, embedding, quality_score, enrolled_at
		FROM identity_templates
		WHERE subject_id = $1
	`

	var tpl store.IdentityTemplate
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&tpl.SubjectID,
		&tpl.SubjectName,
		&vec,
		&tpl.QualityScore,
		&tpl.EnrolledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	tpl.Embedding = vec.Slice()
	return &tpl, nil
}

// GetByName returns the first template whose subject name matches after
// normalization (lowercase, no diacritics, dashes to spaces), or nil.
func (r *TemplateRepository) GetByName(ctx context.Context, name string) (*store.IdentityTemplate, error) {
	normalized := store.NormalizeSubjectName(name)

	// Matches store.NormalizeSubjectName on the SQL side.
	query := `
		SELECT subject_id, subject_name, embedding, quality_score, enrolled_at
		FROM identity_templates
		WHERE LOWER(REPLACE(unaccent(subject_name), '-', ' ')) = $1
		ORDER BY subject_id
		LIMIT 1
	`

	var tpl store.IdentityTemplate
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, normalized).Scan(
		&tpl.SubjectID,
		&tpl.SubjectName,
		&vec,
		&tpl.QualityScore,
		&tpl.EnrolledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template by name: %w", err)
	}

	tpl.Embedding = vec.Slice()
	return &tpl, nil
}

// NearestNeighbors returns up to k enrolled subjects closest to the query
// embedding under cosine distance. Uses the in-memory HNSW index when
// enabled, otherwise pgvector's <=> operator with its own index.
func (r *TemplateRepository) NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]store.Neighbor, error) {
	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled {
		return r.hnswIndex.Search(embedding, k), nil
	}

	query := `
		SELECT subject_id, embedding <=> $1 AS distance
		FROM identity_templates
		ORDER BY embedding <=> $1, subject_id
		LIMIT $2
	`

	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx, query, vec, k)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}
	defer rows.Close()

	var neighbors []store.Neighbor
	for rows.Next() {
		var n store.Neighbor
		if err := rows.Scan(&n.SubjectID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}

// Delete removes the subject's template if present.
func (r *TemplateRepository) Delete(ctx context.Context, subjectID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM identity_templates WHERE subject_id = $1", subjectID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled {
		r.hnswIndex.Delete(subjectID)
	}
	return nil
}

// Count returns the number of enrolled subjects.
func (r *TemplateRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identity_templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

// List returns all enrolled templates ordered by subject id.
func (r *TemplateRepository) List(ctx context.Context) ([]store.IdentityTemplate, error) {
	query := `
		SELECT subject_id, subject_name, embedding, quality_score, enrolled_at
		FROM identity_templates
		ORDER BY subject_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []store.IdentityTemplate
	for rows.Next() {
		var tpl store.IdentityTemplate
		var vec pgvector.Vector
		if err := rows.Scan(&tpl.SubjectID, &tpl.SubjectName, &vec, &tpl.QualityScore, &tpl.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.Embedding = vec.Slice()
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// EnableHNSW loads all templates and builds the in-memory HNSW index.
// Nearest-neighbor queries fall back to pgvector until this succeeds.
func (r *TemplateRepository) EnableHNSW(ctx context.Context) error {
	templates, err := r.List(ctx)
	if err != nil {
		return fmt.Errorf("load templates for HNSW index: %w", err)
	}

	idx := store.NewHNSWIndex()
	idx.Build(templates)

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.hnswMu.Unlock()
	return nil
}

// HNSWCount returns the number of subjects in the in-memory index.
func (r *TemplateRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if !r.hnswEnabled {
		return 0
	}
	return r.hnswIndex.Count()
}
