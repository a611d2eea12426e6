package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/presenceio/presenced/internal/gate"
	"github.com/presenceio/presenced/internal/store"
)

// imageEval is the verdict for one enrollment image.
type imageEval struct {
	success   bool
	reason    string
	quality   gate.QualityReport
	embedding []float32
}

// enroll runs the quorum aggregation flow: every supplied image is fully
// evaluated (no short-circuit on early failures), then the template commits
// only when enough images succeeded. The committed embedding comes from the
// single best-quality successful image, never an average.
func (o *Orchestrator) enroll(ctx context.Context, task *Task) *Outcome {
	minImages := o.cfg.Enrollment.MinImages
	if len(task.Images) < minImages {
		return errorOutcome(task, FailInvalidInput,
			fmt.Sprintf("insufficient images: got %d, need %d", len(task.Images), minImages))
	}

	evals := make([]imageEval, len(task.Images))
	for i, img := range task.Images {
		evals[i] = o.evaluateImage(ctx, img)
		o.deps.Logger.Debug("enrollment image evaluated",
			zap.String("task_id", task.ID),
			zap.Int("image", i+1),
			zap.Bool("success", evals[i].success),
			zap.String("reason", evals[i].reason))
	}

	// Capability errors during evaluation become per-image reasons, but an
	// expired task deadline is a terminal failure, not a rejection.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errorOutcome(task, FailTimeout, "task deadline exceeded")
	}

	quorum := o.cfg.Enrollment.Quorum
	if quorum < 2 {
		quorum = 2
	}

	best := -1
	successes := 0
	for i, ev := range evals {
		if !ev.success {
			continue
		}
		successes++
		if best < 0 || ev.quality.Composite > evals[best].quality.Composite {
			best = i
		}
	}

	if successes < quorum {
		reasons := make([]string, len(evals))
		for i, ev := range evals {
			if ev.success {
				reasons[i] = fmt.Sprintf("image %d: ok", i+1)
			} else {
				reasons[i] = fmt.Sprintf("image %d: %s", i+1, ev.reason)
			}
		}
		return &Outcome{
			TaskID:       task.ID,
			Kind:         task.Kind,
			Status:       StatusEnrollRejected,
			ImageReasons: reasons,
			Message:      fmt.Sprintf("%d of %d images acceptable, quorum is %d", successes, len(evals), quorum),
			CompletedAt:  time.Now().UTC(),
		}
	}

	winner := evals[best]
	err := o.deps.Templates.Upsert(ctx, store.IdentityTemplate{
		SubjectID:    task.SubjectID,
		SubjectName:  task.SubjectName,
		Embedding:    winner.embedding,
		QualityScore: winner.quality.Composite,
		EnrolledAt:   time.Now().UTC(),
	})
	if err != nil {
		return o.capabilityFailure(ctx, task, FailInternal, fmt.Errorf("template store failed: %w", err))
	}

	return &Outcome{
		TaskID:          task.ID,
		Kind:            task.Kind,
		Status:          StatusEnrollCommitted,
		SubjectID:       task.SubjectID,
		SubjectName:     task.SubjectName,
		TemplateQuality: winner.quality.Composite,
		CompletedAt:     time.Now().UTC(),
	}
}

// evaluateImage decides whether one enrollment image is acceptable: exactly
// one face after candidate selection, quality pass, liveness pass, and an
// embedding of the right dimension.
func (o *Orchestrator) evaluateImage(ctx context.Context, img []byte) imageEval {
	detections, err := o.deps.Detector.Find(ctx, img)
	if err != nil {
		return imageEval{reason: fmt.Sprintf("detection failed: %v", err)}
	}

	candidates := selectCandidates(detections, o.cfg.Detection)
	switch {
	case len(candidates) == 0:
		return imageEval{reason: "no face detected"}
	case len(candidates) > 1:
		return imageEval{reason: fmt.Sprintf("%d faces detected, need exactly one", len(candidates))}
	}

	face, err := o.bestFace(img, candidates)
	if err != nil {
		return imageEval{reason: err.Error()}
	}
	if !face.quality.Pass {
		return imageEval{reason: face.quality.Reason, quality: face.quality}
	}

	liveness, err := o.deps.Liveness.Check(ctx, face.jpeg)
	if err != nil {
		if errors.Is(err, gate.ErrLivenessUnavailable) {
			return imageEval{reason: "liveness unavailable", quality: face.quality}
		}
		return imageEval{reason: fmt.Sprintf("liveness check failed: %v", err), quality: face.quality}
	}
	if !liveness.IsLive {
		return imageEval{
			reason:  fmt.Sprintf("liveness confidence %.2f at or below threshold %.2f", liveness.Confidence, o.cfg.Liveness.AntiSpoofThreshold),
			quality: face.quality,
		}
	}

	embedding, err := o.deps.Embedder.Encode(ctx, face.jpeg)
	if err != nil {
		return imageEval{reason: fmt.Sprintf("embedding failed: %v", err), quality: face.quality}
	}
	if len(embedding) != o.dim {
		return imageEval{
			reason:  fmt.Sprintf("embedding dimension %d, expected %d", len(embedding), o.dim),
			quality: face.quality,
		}
	}

	return imageEval{success: true, quality: face.quality, embedding: embedding}
}
