package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/inference"
)

// ErrLivenessUnavailable marks a liveness check that could not be performed.
// The gate fails closed: a face is never treated as live when the classifier
// cannot be reached.
var ErrLivenessUnavailable = errors.New("liveness classifier unavailable")

// LivenessReport is the verdict of the anti-spoofing check for one face crop.
type LivenessReport struct {
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"`
}

// LivenessGate runs face crops through the anti-spoofing classifier. When
// disabled by configuration, every crop passes with full confidence.
type LivenessGate struct {
	classifier inference.LivenessClassifier
	cfg        config.LivenessConfig
}

func NewLivenessGate(classifier inference.LivenessClassifier, cfg config.LivenessConfig) *LivenessGate {
	return &LivenessGate{classifier: classifier, cfg: cfg}
}

// Check classifies a face crop as live or spoofed. A classifier failure
// returns ErrLivenessUnavailable rather than a verdict.
func (g *LivenessGate) Check(ctx context.Context, faceCrop []byte) (LivenessReport, error) {
	if !g.cfg.Enabled {
		return LivenessReport{IsLive: true, Confidence: 1.0}, nil
	}

	score, err := g.classifier.Score(ctx, faceCrop)
	if err != nil {
		return LivenessReport{}, fmt.Errorf("%w: %v", ErrLivenessUnavailable, err)
	}

	score = clamp01(score)
	return LivenessReport{
		IsLive:     score > g.cfg.AntiSpoofThreshold,
		Confidence: score,
	}, nil
}
