// Package detect defines the detection boundary of the pipeline: raw
// detections from an external inference service, plus the swappable
// post-filter stage that cleans them up before tracking.
package detect

import (
	"context"
	"image"

	"linetally/internal/geom"
)

// Detection is a single candidate object box produced for one frame.
// Coordinates are pixels with x1 < x2 and y1 < y2; Conf is in [0, 1].
type Detection struct {
	X1      float64 `json:"x1"`
	Y1      float64 `json:"y1"`
	X2      float64 `json:"x2"`
	Y2      float64 `json:"y2"`
	Conf    float64 `json:"conf"`
	ClassID int     `json:"class_id"`
}

// Area returns the box area in square pixels.
func (d Detection) Area() float64 {
	return (d.X2 - d.X1) * (d.Y2 - d.Y1)
}

// Centroid returns the box center.
func (d Detection) Centroid() geom.Point {
	return geom.Centroid(d.X1, d.Y1, d.X2, d.Y2)
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b Detection) float64 {
	xi1 := max(a.X1, b.X1)
	yi1 := max(a.Y1, b.Y1)
	xi2 := min(a.X2, b.X2)
	yi2 := min(a.Y2, b.Y2)

	if xi2 <= xi1 || yi2 <= yi1 {
		return 0
	}

	inter := (xi2 - xi1) * (yi2 - yi1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detector produces raw detections for a frame. Implementations wrap the
// external inference engine; the pipeline treats them as a black box.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
	Close() error
}
