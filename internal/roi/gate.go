// Package roi maintains a horizontal region-of-interest band around the
// counting line, with a safety valve that disables masking when it would
// clip too much legitimate traffic.
package roi

import (
	"log"

	"linetally/internal/detect"
	"linetally/internal/geom"
)

// clipRatioThreshold is the fraction of out-of-band detections that trips
// the safety valve.
const clipRatioThreshold = 0.3

// Config holds ROI gate parameters.
type Config struct {
	BandHeightPx   float64
	MarginPx       float64
	CooldownFrames int // Frames masking stays disabled after the valve trips
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		BandHeightPx:   200,
		MarginPx:       40,
		CooldownFrames: 30,
	}
}

// Gate is the ROI band plus its clipping statistics. Owned by the processing
// goroutine; not safe for concurrent use.
type Gate struct {
	config Config

	yTop    float64
	yBottom float64
	hasLine bool

	clippedDetections int
	totalDetections   int
	skipFrames        int
}

// NewGate creates a gate; SetLine must be called before it masks anything.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// SetLine recomputes the band from the line's vertical midpoint plus the
// configured half height and margin.
func (g *Gate) SetLine(start, end geom.Point) {
	midY := (start.Y + end.Y) / 2
	half := g.config.BandHeightPx / 2

	g.yTop = midY - half - g.config.MarginPx
	if g.yTop < 0 {
		g.yTop = 0
	}
	g.yBottom = midY + half + g.config.MarginPx
	g.hasLine = true

	log.Printf("[ROI] Band set: y=%.0f-%.0f", g.yTop, g.yBottom)
}

// MaskingEnabled reports whether detections are currently being clipped.
func (g *Gate) MaskingEnabled() bool {
	return g.hasLine && g.skipFrames == 0
}

// Contains reports whether the point's vertical position is inside the band.
func (g *Gate) Contains(p geom.Point) bool {
	return p.Y >= g.yTop && p.Y <= g.yBottom
}

// ClipDetections drops detections whose vertical center falls outside the
// band. It is a no-op while the safety valve has masking disabled.
func (g *Gate) ClipDetections(dets []detect.Detection) []detect.Detection {
	if !g.MaskingEnabled() {
		return dets
	}
	kept := make([]detect.Detection, 0, len(dets))
	for _, d := range dets {
		if g.Contains(d.Centroid()) {
			kept = append(kept, d)
		}
	}
	return kept
}

// CheckClipping accumulates the out-of-band ratio over recent frames and
// trips the safety valve when more than 30% of detections would be clipped.
// Returns true if masking was just disabled.
func (g *Gate) CheckClipping(dets []detect.Detection) bool {
	if !g.hasLine || len(dets) == 0 {
		return false
	}

	clipped := 0
	for _, d := range dets {
		if !g.Contains(d.Centroid()) {
			clipped++
		}
	}
	g.totalDetections += len(dets)
	g.clippedDetections += clipped

	if g.totalDetections == 0 {
		return false
	}
	ratio := float64(g.clippedDetections) / float64(g.totalDetections)
	if ratio > clipRatioThreshold && g.skipFrames == 0 {
		g.skipFrames = g.config.CooldownFrames
		log.Printf("[ROI] Masking disabled for %d frames: %.0f%% of detections outside band",
			g.skipFrames, ratio*100)
		return true
	}
	return false
}

// Tick advances the cooldown by one frame. Once the cooldown elapses the
// clipping statistics reset and masking resumes.
func (g *Gate) Tick() {
	if g.skipFrames == 0 {
		return
	}
	g.skipFrames--
	if g.skipFrames == 0 {
		g.clippedDetections = 0
		g.totalDetections = 0
	}
}

// Coverage reports the band height as a fraction of the frame height.
func (g *Gate) Coverage(frameHeight float64) float64 {
	if !g.hasLine || frameHeight <= 0 {
		return 1.0
	}
	return (g.yBottom - g.yTop) / frameHeight
}
