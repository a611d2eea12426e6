// Package pipeline runs queued face tasks through detection, the quality
// and liveness gates, embedding and identity matching (or enrollment
// aggregation) and produces exactly one terminal Outcome per task.
package pipeline

import (
	"time"
)

// TaskKind distinguishes the two pipeline entry points.
type TaskKind string

const (
	KindEnroll TaskKind = "enroll"
	KindVerify TaskKind = "verify"
)

// Task is one unit of work pulled off the queue. It is owned by the
// orchestrator until a terminal outcome is written; afterwards only the
// Outcome survives.
type Task struct {
	ID          string    `json:"task_id"`
	Kind        TaskKind  `json:"type"`
	Images      [][]byte  `json:"images"`
	SubjectID   string    `json:"subject_id,omitempty"`
	SubjectName string    `json:"subject_name,omitempty"`
	CameraID    string    `json:"camera_id,omitempty"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Status tags the terminal outcome variant.
type Status string

const (
	StatusEnrollCommitted Status = "enroll_committed"
	StatusEnrollRejected  Status = "enroll_rejected"
	StatusVerifyMatched   Status = "verify_matched"
	StatusVerifyNoMatch   Status = "verify_no_match"
	StatusError           Status = "error"
)

// FailureKind classifies terminal errors.
type FailureKind string

const (
	FailInvalidInput        FailureKind = "invalid_input"
	FailNoFaceDetected      FailureKind = "no_face_detected"
	FailQualityTooLow       FailureKind = "quality_too_low"
	FailLivenessFailed      FailureKind = "liveness_failed"
	FailLivenessUnavailable FailureKind = "liveness_unavailable"
	FailEmbeddingFailed     FailureKind = "embedding_failed"
	FailTimeout             FailureKind = "timeout"
	FailMalformedTask       FailureKind = "malformed_task"
	FailInternal            FailureKind = "internal"
)

// Outcome is the terminal result of a task. Exactly one variant applies,
// selected by Status; the remaining fields are populated per variant.
type Outcome struct {
	TaskID string   `json:"task_id"`
	Kind   TaskKind `json:"type"`
	Status Status   `json:"status"`

	// verify_matched
	SubjectID          string  `json:"subject_id,omitempty"`
	SubjectName        string  `json:"subject_name,omitempty"`
	Similarity         float64 `json:"similarity,omitempty"`
	IsLive             bool    `json:"is_live,omitempty"`
	AttendanceRecorded bool    `json:"attendance_recorded,omitempty"`

	// verify_no_match
	BestSimilarity float64 `json:"best_similarity,omitempty"`

	// enroll_committed
	TemplateQuality float64 `json:"template_quality,omitempty"`

	// enroll_rejected
	ImageReasons []string `json:"image_reasons,omitempty"`

	// error
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	// Confidence carries the measured liveness score when FailureKind is
	// liveness_failed, so callers need not parse Message.
	Confidence float64 `json:"confidence,omitempty"`

	CompletedAt time.Time     `json:"completed_at"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Failed reports whether the outcome is the error variant.
func (o *Outcome) Failed() bool {
	return o.Status == StatusError
}

func errorOutcome(task *Task, kind FailureKind, message string) *Outcome {
	return &Outcome{
		TaskID:      task.ID,
		Kind:        task.Kind,
		Status:      StatusError,
		FailureKind: kind,
		Message:     message,
		CompletedAt: time.Now().UTC(),
	}
}
