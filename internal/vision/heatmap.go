package vision

import (
	"image"
	"math"

	"linetally/internal/geom"
)

// Heatmap is a float accumulator the auto-calibrator rasterizes trajectory
// segments onto. It is a diagnostic artifact, not part of candidate scoring.
type Heatmap struct {
	W, H int
	data []float64
}

// NewHeatmap creates an empty w x h accumulator.
func NewHeatmap(w, h int) *Heatmap {
	return &Heatmap{W: w, H: h, data: make([]float64, w*h)}
}

// AddSegment rasterizes the segment a-b with the given stroke thickness,
// accumulating 1.0 into every covered cell.
func (hm *Heatmap) AddSegment(a, b geom.Point, thickness float64) {
	length := a.Dist(b)
	steps := int(length) + 1
	half := thickness / 2

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		cx := a.X + t*(b.X-a.X)
		cy := a.Y + t*(b.Y-a.Y)
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				x := int(math.Round(cx + dx))
				y := int(math.Round(cy + dy))
				if x < 0 || x >= hm.W || y < 0 || y >= hm.H {
					continue
				}
				hm.data[y*hm.W+x] = 1
			}
		}
	}
}

// At returns the accumulated value at (x, y).
func (hm *Heatmap) At(x, y int) float64 {
	if x < 0 || x >= hm.W || y < 0 || y >= hm.H {
		return 0
	}
	return hm.data[y*hm.W+x]
}

// Render normalizes the accumulator to an 8-bit grayscale image and smooths
// it with a Gaussian blur.
func (hm *Heatmap) Render(sigma float32) *image.Gray {
	maxVal := 0.0
	for _, v := range hm.data {
		if v > maxVal {
			maxVal = v
		}
	}

	img := image.NewGray(image.Rect(0, 0, hm.W, hm.H))
	if maxVal > 0 {
		for i, v := range hm.data {
			img.Pix[i] = uint8(v / maxVal * 255)
		}
	}
	if sigma <= 0 {
		return img
	}
	return GaussianBlur(img, sigma)
}
