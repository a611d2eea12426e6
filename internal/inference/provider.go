// Package inference wraps the external model-serving service behind narrow
// capability interfaces. The pipeline depends on these interfaces only; the
// HTTP client in this package is the production implementation.
package inference

import "context"

// Detection is a single detected face in pixel coordinates.
type Detection struct {
	BBox       []float64            `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float64              `json:"confidence"`
	Landmarks  map[string][]float64 `json:"landmarks,omitempty"`
}

// Area returns the bounding-box area in square pixels.
func (d Detection) Area() float64 {
	if len(d.BBox) != 4 {
		return 0
	}
	w := d.BBox[2] - d.BBox[0]
	h := d.BBox[3] - d.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detector finds faces in a raw image.
type Detector interface {
	Find(ctx context.Context, image []byte) ([]Detection, error)
}

// Embedder encodes a cropped face into a fixed-dimension identity vector.
type Embedder interface {
	Encode(ctx context.Context, faceCrop []byte) ([]float32, error)
}

// LivenessClassifier scores how likely a cropped face is a live subject
// rather than a photo or replay. Scores are in [0, 1]; implementations must
// return an explicit error on failure, never a partial score.
type LivenessClassifier interface {
	Score(ctx context.Context, faceCrop []byte) (float64, error)
}
