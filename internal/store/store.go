// Package store defines the enrolled-template store shared by the identity
// matcher (reads) and the enrollment aggregator (writes), plus the attendance
// recorder. Implementations must make per-subject writes atomic so a
// concurrent nearest-neighbor query never observes a half-written template.
package store

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IdentityTemplate is the single active template for an enrolled subject.
// A re-enrollment replaces it, it is never unioned.
type IdentityTemplate struct {
	SubjectID    string
	SubjectName  string
	Embedding    []float32
	QualityScore float64
	EnrolledAt   time.Time
}

// Neighbor is one nearest-neighbor result, ordered by cosine distance.
type Neighbor struct {
	SubjectID string
	Distance  float64
}

// TemplateStore is the enrolled-template vector store.
type TemplateStore interface {
	// Upsert atomically replaces-or-inserts the subject's template.
	Upsert(ctx context.Context, tpl IdentityTemplate) error
	// Get returns the subject's template, or nil if not enrolled.
	Get(ctx context.Context, subjectID string) (*IdentityTemplate, error)
	// NearestNeighbors returns up to k enrolled subjects closest to the query
	// embedding under cosine distance, nearest first.
	NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]Neighbor, error)
	// Delete removes the subject's template if present.
	Delete(ctx context.Context, subjectID string) error
	// Count returns the number of enrolled subjects.
	Count(ctx context.Context) (int, error)
}

// AttendanceRecord is the side-effect payload emitted on a verified match.
type AttendanceRecord struct {
	SubjectID string
	TaskID    string
	CameraID  string
	Location  string
	At        time.Time
}

// AttendanceRecorder writes attendance entries idempotently keyed by task id,
// so queue redelivery never duplicates an entry.
type AttendanceRecorder interface {
	// RecordIfAbsent returns true if a new entry was written, false if an
	// entry for the task id already existed.
	RecordIfAbsent(ctx context.Context, rec AttendanceRecord) (bool, error)
}

// RemoveDiacritics removes diacritical marks from a string (e.g. "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeSubjectName normalizes a display name for comparison
// (lowercase, no diacritics, spaces for dashes).
func NormalizeSubjectName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return name
}
