package pipeline

import (
	"math"
	"sort"

	"github.com/presenceio/presenced/internal/config"
	"github.com/presenceio/presenced/internal/inference"
)

// selectCandidates reduces raw detections to the faces worth gating:
// confidence floor, minimum face size, overlap dedup, then the configured
// cap with the lowest-confidence extras dropped.
func selectCandidates(detections []inference.Detection, cfg config.DetectionConfig) []inference.Detection {
	kept := make([]inference.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence < cfg.MinConfidence {
			continue
		}
		if len(d.BBox) != 4 {
			continue
		}
		width := d.BBox[2] - d.BBox[0]
		height := d.BBox[3] - d.BBox[1]
		if width < float64(cfg.MinFaceSize) || height < float64(cfg.MinFaceSize) {
			continue
		}
		kept = append(kept, d)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	kept = dedupOverlapping(kept, cfg.IoUDedupThreshold)

	if cfg.MaxFacesPerImage > 0 && len(kept) > cfg.MaxFacesPerImage {
		kept = kept[:cfg.MaxFacesPerImage]
	}
	return kept
}

// dedupOverlapping drops detections that overlap an already kept, more
// confident one. Input must be sorted by confidence descending.
func dedupOverlapping(detections []inference.Detection, threshold float64) []inference.Detection {
	if threshold <= 0 {
		return detections
	}

	kept := make([]inference.Detection, 0, len(detections))
	for _, d := range detections {
		overlaps := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

// iou is the intersection-over-union of two [x1, y1, x2, y2] boxes.
func iou(a, b []float64) float64 {
	ix1 := math.Max(a[0], b[0])
	iy1 := math.Max(a[1], b[1])
	ix2 := math.Min(a[2], b[2])
	iy2 := math.Min(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	intersection := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
