package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Results.TTL != time.Hour {
		t.Errorf("expected default result TTL 1h, got %s", cfg.Results.TTL)
	}
	if cfg.Queue.Concurrency <= 0 {
		t.Errorf("expected positive worker concurrency, got %d", cfg.Queue.Concurrency)
	}
}

func TestEmbeddedThresholds(t *testing.T) {
	cfg := Load()
	p := cfg.Pipeline

	if p.Quality.MinScore != 0.7 {
		t.Errorf("quality min score = %v; want 0.7", p.Quality.MinScore)
	}
	if p.Quality.BlurThreshold != 100.0 {
		t.Errorf("blur threshold = %v; want 100", p.Quality.BlurThreshold)
	}
	if p.Liveness.AntiSpoofThreshold != 0.95 {
		t.Errorf("anti-spoof threshold = %v; want 0.95", p.Liveness.AntiSpoofThreshold)
	}
	if p.Matching.RecognitionThreshold != 0.6 {
		t.Errorf("recognition threshold = %v; want 0.6", p.Matching.RecognitionThreshold)
	}
	if p.Detection.MaxFacesPerImage != 10 {
		t.Errorf("max faces = %d; want 10", p.Detection.MaxFacesPerImage)
	}
	if p.Enrollment.MinImages != 3 || p.Enrollment.Quorum != 2 {
		t.Errorf("enrollment defaults = %d/%d; want 3/2", p.Enrollment.MinImages, p.Enrollment.Quorum)
	}

	sum := p.Quality.Weights.Brightness + p.Quality.Weights.Sharpness + p.Quality.Weights.Contrast
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("quality weights should sum to 1, got %v", sum)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FACE_RECOGNITION_THRESHOLD", "0.75")
	t.Setenv("ENABLE_ANTI_SPOOFING", "false")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("RESULT_TTL", "30m")

	cfg := Load()

	if cfg.Pipeline.Matching.RecognitionThreshold != 0.75 {
		t.Errorf("recognition threshold override = %v; want 0.75", cfg.Pipeline.Matching.RecognitionThreshold)
	}
	if cfg.Pipeline.Liveness.Enabled {
		t.Error("expected liveness disabled via env")
	}
	if cfg.Embedding.Dim != 128 {
		t.Errorf("embedding dim override = %d; want 128", cfg.Embedding.Dim)
	}
	if cfg.Results.TTL != 30*time.Minute {
		t.Errorf("result TTL override = %s; want 30m", cfg.Results.TTL)
	}
}

func TestEnvHelpersIgnoreInvalid(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	t.Setenv("ANTI_SPOOFING_THRESHOLD", "high")

	cfg := Load()

	if cfg.Queue.Concurrency != 4 {
		t.Errorf("invalid WORKER_CONCURRENCY should fall back to 4, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Pipeline.Liveness.AntiSpoofThreshold != 0.95 {
		t.Errorf("invalid ANTI_SPOOFING_THRESHOLD should fall back to 0.95, got %v", cfg.Pipeline.Liveness.AntiSpoofThreshold)
	}
}
