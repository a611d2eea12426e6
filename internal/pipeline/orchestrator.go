package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/gate"
	"github.com/presenceio/presenced/internal/inference"
	"github.com/presenceio/presenced/internal/match"
	"github.com/presenceio/presenced/internal/store"
)

// Deps are the collaborators the orchestrator drives. All of them are
// required except Attendance, which may be nil when no attendance sink is
// configured.
type Deps struct {
	Detector   inference.Detector
	Embedder   inference.Embedder
	Quality    *gate.QualityGate
	Liveness   *gate.LivenessGate
	Matcher    *match.Matcher
	Templates  store.TemplateStore
	Attendance store.AttendanceRecorder
	Logger     *zap.Logger
}

// Orchestrator owns a task from dequeue to terminal outcome. It never
// returns an error: every failure mode, including panics and deadline
// expiry, is folded into the Outcome so the caller always has something
// durable to store.
type Orchestrator struct {
	deps        Deps
	cfg         config.PipelineConfig
	dim         int
	taskTimeout time.Duration
}

func NewOrchestrator(deps Deps, cfg config.PipelineConfig, embeddingDim int, taskTimeout time.Duration) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:        deps,
		cfg:         cfg,
		dim:         embeddingDim,
		taskTimeout: taskTimeout,
	}
}

// Process runs one task to its terminal outcome.
func (o *Orchestrator) Process(ctx context.Context, task *Task) (outcome *Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error("task processing panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			outcome = errorOutcome(task, FailInternal, fmt.Sprintf("panic: %v", r))
		}
		outcome.Elapsed = time.Since(start)
	}()

	if reason := validateTask(task); reason != "" {
		return errorOutcome(task, FailMalformedTask, reason)
	}

	ctx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	o.deps.Logger.Debug("task started",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("images", len(task.Images)))

	switch task.Kind {
	case KindVerify:
		outcome = o.verify(ctx, task)
	case KindEnroll:
		outcome = o.enroll(ctx, task)
	default:
		outcome = errorOutcome(task, FailMalformedTask, fmt.Sprintf("unknown task kind %q", task.Kind))
	}

	o.deps.Logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(outcome.Status)),
		zap.Duration("elapsed", time.Since(start)))
	return outcome
}

func validateTask(task *Task) string {
	switch {
	case task.ID == "":
		return "missing task id"
	case task.Kind != KindEnroll && task.Kind != KindVerify:
		return fmt.Sprintf("unknown task kind %q", task.Kind)
	case len(task.Images) == 0:
		return "no images in payload"
	case task.Kind == KindEnroll && task.SubjectID == "":
		return "enrollment requires a subject id"
	}
	for i, img := range task.Images {
		if len(img) == 0 {
			return fmt.Sprintf("image %d is empty", i+1)
		}
	}
	return ""
}

// verify runs the single-image identification flow: detect, pick the best
// face, gate it, embed it, match it, and on a match record attendance.
func (o *Orchestrator) verify(ctx context.Context, task *Task) *Outcome {
	img := task.Images[0]

	detections, err := o.deps.Detector.Find(ctx, img)
	if err != nil {
		return o.capabilityFailure(ctx, task, FailInternal, fmt.Errorf("detection failed: %w", err))
	}

	candidates := selectCandidates(detections, o.cfg.Detection)
	if len(candidates) == 0 {
		return errorOutcome(task, FailNoFaceDetected, "no face detected")
	}

	face, err := o.bestFace(img, candidates)
	if err != nil {
		return errorOutcome(task, FailInvalidInput, err.Error())
	}

	if !face.quality.Pass {
		return errorOutcome(task, FailQualityTooLow, face.quality.Reason)
	}

	liveness, err := o.deps.Liveness.Check(ctx, face.jpeg)
	if err != nil {
		if errors.Is(err, gate.ErrLivenessUnavailable) {
			return o.capabilityFailure(ctx, task, FailLivenessUnavailable, err)
		}
		return o.capabilityFailure(ctx, task, FailInternal, err)
	}
	if !liveness.IsLive {
		out := errorOutcome(task, FailLivenessFailed,
			fmt.Sprintf("liveness confidence %.2f at or below threshold %.2f", liveness.Confidence, o.cfg.Liveness.AntiSpoofThreshold))
		out.Confidence = liveness.Confidence
		return out
	}

	embedding, err := o.deps.Embedder.Encode(ctx, face.jpeg)
	if err != nil {
		return o.capabilityFailure(ctx, task, FailEmbeddingFailed, fmt.Errorf("embedding failed: %w", err))
	}
	if len(embedding) != o.dim {
		return errorOutcome(task, FailInvalidInput,
			fmt.Sprintf("embedding dimension %d, expected %d", len(embedding), o.dim))
	}

	result, err := o.deps.Matcher.Identify(ctx, embedding)
	if err != nil {
		return o.capabilityFailure(ctx, task, FailInternal, fmt.Errorf("matching failed: %w", err))
	}

	outcome := &Outcome{
		TaskID:      task.ID,
		Kind:        task.Kind,
		IsLive:      liveness.IsLive,
		CompletedAt: time.Now().UTC(),
	}
	if !result.Matched {
		outcome.Status = StatusVerifyNoMatch
		outcome.BestSimilarity = result.Similarity
		return outcome
	}

	outcome.Status = StatusVerifyMatched
	outcome.SubjectID = result.SubjectID
	outcome.SubjectName = result.SubjectName
	outcome.Similarity = result.Similarity

	if o.deps.Attendance != nil {
		inserted, err := o.deps.Attendance.RecordIfAbsent(ctx, store.AttendanceRecord{
			SubjectID: result.SubjectID,
			TaskID:    task.ID,
			CameraID:  task.CameraID,
			Location:  task.Location,
			At:        time.Now().UTC(),
		})
		if err != nil {
			return o.capabilityFailure(ctx, task, FailInternal, fmt.Errorf("attendance record failed: %w", err))
		}
		outcome.AttendanceRecorded = inserted
	}
	return outcome
}

// scoredFace is one cropped candidate with its quality verdict.
type scoredFace struct {
	detection inference.Detection
	jpeg      []byte
	quality   gate.QualityReport
}

// bestFace crops every candidate and keeps the best one. A passing candidate
// always beats a failing one, then higher composite wins, ties broken by
// larger bounding-box area. Candidates whose crop cannot be decoded or
// assessed are skipped; if none survive the image is unusable.
func (o *Orchestrator) bestFace(img []byte, candidates []inference.Detection) (*scoredFace, error) {
	var best *scoredFace
	var lastErr error

	for _, det := range candidates {
		crop, err := gate.CropFace(img, det.BBox)
		if err != nil {
			lastErr = err
			continue
		}
		report, err := o.deps.Quality.Assess(crop)
		if err != nil {
			lastErr = err
			continue
		}

		if !outranks(report, det, best) {
			continue
		}

		data, err := gate.EncodeJPEG(crop)
		if err != nil {
			lastErr = err
			continue
		}
		best = &scoredFace{detection: det, jpeg: data, quality: report}
	}

	if best == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("no usable face crop: %w", lastErr)
		}
		return nil, fmt.Errorf("no usable face crop")
	}
	return best, nil
}

// outranks reports whether the candidate should replace the current best.
func outranks(report gate.QualityReport, det inference.Detection, best *scoredFace) bool {
	if best == nil {
		return true
	}
	if report.Pass != best.quality.Pass {
		return report.Pass
	}
	if report.Composite != best.quality.Composite {
		return report.Composite > best.quality.Composite
	}
	return det.Area() > best.detection.Area()
}

// capabilityFailure maps an unexpected collaborator error to a terminal
// outcome, preferring Timeout when the task deadline already expired.
func (o *Orchestrator) capabilityFailure(ctx context.Context, task *Task, kind FailureKind, err error) *Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errorOutcome(task, FailTimeout, "task deadline exceeded")
	}
	return errorOutcome(task, kind, err.Error())
}
