package gate

import (
	"fmt"
	"image"
	"math"

	"github.com/presenceio/presenced/internal/config"
)

// QualityReport carries the raw photometric metrics of a face crop along
// with the normalized composite score and the pass/fail verdict.
type QualityReport struct {
	Brightness float64 `json:"brightness"`        // mean luma, 0-255
	BlurScore  float64 `json:"blur_score"`        // Laplacian variance, higher is sharper
	Sharpness  float64 `json:"sharpness"`         // mean Sobel gradient magnitude
	Contrast   float64 `json:"contrast"`          // luma standard deviation
	Composite  float64 `json:"composite"`         // weighted score in [0, 1]
	Pass       bool    `json:"pass"`
	Reason     string  `json:"reason,omitempty"`
}

// QualityGate scores face crops against configurable photometric thresholds.
// A crop passes only when the composite score clears the minimum AND the
// brightness sits inside the acceptable band AND the blur variance clears
// the sharpness floor.
type QualityGate struct {
	cfg config.QualityConfig
}

func NewQualityGate(cfg config.QualityConfig) *QualityGate {
	return &QualityGate{cfg: cfg}
}

// Assess computes the quality metrics of a face crop. Returns ErrEmptyCrop
// for a zero-area image.
func (g *QualityGate) Assess(crop image.Image) (QualityReport, error) {
	bounds := crop.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return QualityReport{}, ErrEmptyCrop
	}

	gray := toGrayscale(crop)

	report := QualityReport{
		Brightness: meanLuma(gray),
		BlurScore:  laplacianVariance(gray),
		Sharpness:  sobelSharpness(gray),
	}
	report.Contrast = lumaStdDev(gray, report.Brightness)
	report.Composite = g.composite(report)

	switch {
	case report.Brightness < g.cfg.BrightnessMin:
		report.Reason = fmt.Sprintf("too dark: brightness %.1f below %.1f", report.Brightness, g.cfg.BrightnessMin)
	case report.Brightness > g.cfg.BrightnessMax:
		report.Reason = fmt.Sprintf("too bright: brightness %.1f above %.1f", report.Brightness, g.cfg.BrightnessMax)
	case report.BlurScore < g.cfg.BlurThreshold:
		report.Reason = fmt.Sprintf("too blurry: variance %.1f below %.1f", report.BlurScore, g.cfg.BlurThreshold)
	case report.Composite < g.cfg.MinScore:
		report.Reason = fmt.Sprintf("composite score %.2f below %.2f", report.Composite, g.cfg.MinScore)
	default:
		report.Pass = true
	}

	return report, nil
}

// composite folds the raw metrics into a single weighted score in [0, 1].
func (g *QualityGate) composite(r QualityReport) float64 {
	mid := (g.cfg.BrightnessMin + g.cfg.BrightnessMax) / 2
	halfRange := (g.cfg.BrightnessMax - g.cfg.BrightnessMin) / 2
	brightnessScore := 0.0
	if halfRange > 0 {
		brightnessScore = clamp01(1 - math.Abs(r.Brightness-mid)/halfRange)
	}
	sharpnessScore := clamp01(r.Sharpness / g.cfg.SharpnessFullScale)
	contrastScore := clamp01(r.Contrast / g.cfg.ContrastFullScale)

	w := g.cfg.Weights
	return w.Brightness*brightnessScore + w.Sharpness*sharpnessScore + w.Contrast*contrastScore
}

// meanLuma is the average grayscale value.
func meanLuma(gray [][]float64) float64 {
	sum := 0.0
	for x := range gray {
		for y := range gray[x] {
			sum += gray[x][y]
		}
	}
	return sum / float64(len(gray)*len(gray[0]))
}

// lumaStdDev measures global contrast as the standard deviation of luma.
func lumaStdDev(gray [][]float64, mean float64) float64 {
	sum := 0.0
	for x := range gray {
		for y := range gray[x] {
			d := gray[x][y] - mean
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(gray)*len(gray[0])))
}

// laplacianVariance measures focus as the variance of the 4-neighbor
// Laplacian response. Flat or defocused crops score near zero.
func laplacianVariance(gray [][]float64) float64 {
	width := len(gray)
	height := len(gray[0])
	if width < 3 || height < 3 {
		return 0
	}

	responses := make([]float64, 0, (width-2)*(height-2))
	sum := 0.0
	for x := 1; x < width-1; x++ {
		for y := 1; y < height-1; y++ {
			lap := gray[x-1][y] + gray[x+1][y] + gray[x][y-1] + gray[x][y+1] - 4*gray[x][y]
			responses = append(responses, lap)
			sum += lap
		}
	}

	mean := sum / float64(len(responses))
	variance := 0.0
	for _, lap := range responses {
		d := lap - mean
		variance += d * d
	}
	return variance / float64(len(responses))
}

// sobelSharpness is the mean gradient magnitude over the 3x3 Sobel operator.
func sobelSharpness(gray [][]float64) float64 {
	width := len(gray)
	height := len(gray[0])
	if width < 3 || height < 3 {
		return 0
	}

	sum := 0.0
	for x := 1; x < width-1; x++ {
		for y := 1; y < height-1; y++ {
			gx := gray[x+1][y-1] + 2*gray[x+1][y] + gray[x+1][y+1] -
				gray[x-1][y-1] - 2*gray[x-1][y] - gray[x-1][y+1]
			gy := gray[x-1][y+1] + 2*gray[x][y+1] + gray[x+1][y+1] -
				gray[x-1][y-1] - 2*gray[x][y-1] - gray[x+1][y-1]
			sum += math.Sqrt(gx*gx + gy*gy)
		}
	}
	return sum / float64((width-2)*(height-2))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
