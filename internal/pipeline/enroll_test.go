package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/presenceio/presenced/internal/inference"
)

// seqEmbedder returns a distinct embedding per call, in order.
type seqEmbedder struct {
	embeddings [][]float32
	calls      int
}

func (f *seqEmbedder) Encode(_ context.Context, _ []byte) ([]float32, error) {
	emb := f.embeddings[f.calls%len(f.embeddings)]
	f.calls++
	return emb, nil
}

func enrollTask(id, subjectID string, images ...[]byte) *Task {
	return &Task{
		ID:          id,
		Kind:        KindEnroll,
		Images:      images,
		SubjectID:   subjectID,
		SubjectName: "Jana Dvorak",
	}
}

func TestEnrollQuorumCommits(t *testing.T) {
	h := newHarness(t)
	sharp := sharpFaceImage()
	flat := flatFaceImage()

	// 2 of 3 images acceptable, quorum is 2.
	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, flat, sharp))

	if outcome.Status != StatusEnrollCommitted {
		t.Fatalf("status = %s (%s); want enroll_committed", outcome.Status, outcome.Message)
	}
	if outcome.SubjectID != "E500" {
		t.Errorf("SubjectID = %q; want E500", outcome.SubjectID)
	}
	if outcome.TemplateQuality < 0.7 {
		t.Errorf("TemplateQuality = %.2f; want the best passing composite", outcome.TemplateQuality)
	}

	tpl, err := h.templates.Get(context.Background(), "E500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl == nil {
		t.Fatal("expected a stored template")
	}
	if tpl.SubjectName != "Jana Dvorak" {
		t.Errorf("SubjectName = %q; want Jana Dvorak", tpl.SubjectName)
	}
	if len(tpl.Embedding) != 3 {
		t.Errorf("embedding dimension = %d; want 3", len(tpl.Embedding))
	}
}

func TestEnrollStoresBestQualityEmbedding(t *testing.T) {
	h := newHarness(t)
	// Images are evaluated in order, so the first embedding belongs to the
	// softer image and the second to the sharper one. The flat image fails
	// before the embedder runs.
	h.orchestrator.deps.Embedder = &seqEmbedder{embeddings: [][]float32{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}}}

	outcome := h.orchestrator.Process(context.Background(),
		enrollTask("task-1", "E500", softFaceImage(), sharpFaceImage(), flatFaceImage()))

	if outcome.Status != StatusEnrollCommitted {
		t.Fatalf("status = %s (%s); want enroll_committed", outcome.Status, outcome.Message)
	}
	if outcome.TemplateQuality < 0.95 {
		t.Errorf("TemplateQuality = %.2f; want the sharper image's composite", outcome.TemplateQuality)
	}

	tpl, err := h.templates.Get(context.Background(), "E500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl == nil {
		t.Fatal("expected a stored template")
	}
	if tpl.Embedding[0] != 1 {
		t.Errorf("template embedding must come from the best-quality image, got %v", tpl.Embedding)
	}
}

func TestEnrollDeadlineMapsToTimeout(t *testing.T) {
	h := newHarness(t)
	h.detector.block = true
	h.orchestrator.taskTimeout = 20 * time.Millisecond
	sharp := sharpFaceImage()

	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, sharp, sharp))

	if outcome.Status != StatusError || outcome.FailureKind != FailTimeout {
		t.Fatalf("outcome = %s/%s; want error/timeout", outcome.Status, outcome.FailureKind)
	}
	for _, reason := range outcome.ImageReasons {
		t.Errorf("timeout must not surface per-image reasons, got %q", reason)
	}
}

func TestEnrollBelowQuorumRejects(t *testing.T) {
	h := newHarness(t)
	sharp := sharpFaceImage()
	flat := flatFaceImage()

	// Only 1 of 3 passes.
	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, flat, flat))

	if outcome.Status != StatusEnrollRejected {
		t.Fatalf("status = %s; want enroll_rejected", outcome.Status)
	}
	if len(outcome.ImageReasons) != 3 {
		t.Fatalf("ImageReasons = %d entries; want 3", len(outcome.ImageReasons))
	}
	if !strings.Contains(outcome.ImageReasons[0], "ok") {
		t.Errorf("reason 1 = %q; want ok", outcome.ImageReasons[0])
	}
	if !strings.Contains(outcome.ImageReasons[1], "blurry") {
		t.Errorf("reason 2 = %q; want a blur failure", outcome.ImageReasons[1])
	}
	if !strings.Contains(outcome.Message, "1 of 3") {
		t.Errorf("message = %q; want success count", outcome.Message)
	}

	tpl, err := h.templates.Get(context.Background(), "E500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl != nil {
		t.Error("rejected enrollment must not persist a template")
	}
}

func TestEnrollEvaluatesEveryImage(t *testing.T) {
	h := newHarness(t)
	flat := flatFaceImage()

	// All images fail; each must still carry its own reason.
	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", flat, flat, flat))

	if outcome.Status != StatusEnrollRejected {
		t.Fatalf("status = %s; want enroll_rejected", outcome.Status)
	}
	for i, reason := range outcome.ImageReasons {
		if !strings.Contains(reason, "blurry") {
			t.Errorf("reason %d = %q; want a blur failure", i+1, reason)
		}
	}
}

func TestEnrollInsufficientImages(t *testing.T) {
	h := newHarness(t)
	sharp := sharpFaceImage()

	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, sharp))

	if outcome.Status != StatusError || outcome.FailureKind != FailInvalidInput {
		t.Fatalf("outcome = %s/%s; want error/invalid_input", outcome.Status, outcome.FailureKind)
	}
	if !strings.Contains(outcome.Message, "insufficient images") {
		t.Errorf("message = %q; want insufficient images", outcome.Message)
	}
}

func TestEnrollRejectsMultipleFaces(t *testing.T) {
	h := newHarness(t)
	h.detector.detections = []inference.Detection{
		{BBox: []float64{0, 0, 60, 60}, Confidence: 0.99},
		{BBox: []float64{60, 60, 120, 120}, Confidence: 0.98},
	}
	sharp := sharpFaceImage()

	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, sharp, sharp))

	if outcome.Status != StatusEnrollRejected {
		t.Fatalf("status = %s; want enroll_rejected", outcome.Status)
	}
	if !strings.Contains(outcome.ImageReasons[0], "exactly one") {
		t.Errorf("reason = %q; want exactly-one-face failure", outcome.ImageReasons[0])
	}
}

func TestEnrollReplacesExistingTemplate(t *testing.T) {
	h := newHarness(t)
	h.enrollSubject(t, "E500", []float32{0, 1, 0})
	h.embedder.embedding = []float32{1, 0, 0}
	sharp := sharpFaceImage()

	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, sharp, sharp))

	if outcome.Status != StatusEnrollCommitted {
		t.Fatalf("status = %s; want enroll_committed", outcome.Status)
	}

	tpl, err := h.templates.Get(context.Background(), "E500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.Embedding[0] != 1 {
		t.Errorf("template was not replaced: %+v", tpl.Embedding)
	}
}

func TestEnrollLivenessUnavailableCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.liveness.err = context.DeadlineExceeded
	sharp := sharpFaceImage()

	outcome := h.orchestrator.Process(context.Background(), enrollTask("task-1", "E500", sharp, sharp, sharp))

	if outcome.Status != StatusEnrollRejected {
		t.Fatalf("status = %s; want enroll_rejected on liveness outage", outcome.Status)
	}
	for i, reason := range outcome.ImageReasons {
		if !strings.Contains(reason, "liveness unavailable") {
			t.Errorf("reason %d = %q; want liveness unavailable", i+1, reason)
		}
	}
}
