// Package gate holds the per-face admission checks that run between
// detection and embedding: the photometric quality gate and the
// anti-spoofing liveness gate.
package gate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmptyCrop is returned when a face crop has no pixels to assess.
var ErrEmptyCrop = errors.New("empty face crop")

// CropFace cuts the bounding box [x1, y1, x2, y2] out of the source image.
// Coordinates are clamped to the image bounds.
func CropFace(data []byte, bbox []float64) (*image.RGBA, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bounding box must have 4 coordinates, got %d", len(bbox))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	x1 := clampInt(int(bbox[0]), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(bbox[1]), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(bbox[2]), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(bbox[3]), bounds.Min.Y, bounds.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return nil, ErrEmptyCrop
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Copy(crop, image.Point{}, img, image.Rect(x1, y1, x2, y2), draw.Over, nil)
	return crop, nil
}

// EncodeJPEG serializes a face crop for the inference capabilities, which
// accept image bytes rather than decoded pixels.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode face crop: %w", err)
	}
	return buf.Bytes(), nil
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
