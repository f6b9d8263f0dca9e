// Package drift watches for camera movement and lighting changes by comparing
// live frames against a reference captured at calibration time.
package drift

import (
	"image"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"linetally/internal/clock"
	"linetally/internal/vision"
)

const historyCap = 30

// Config holds detection thresholds and the recalibration cooldown.
type Config struct {
	// SSIMThresh is the structural similarity below which the camera is
	// considered shifted.
	SSIMThresh float64 `json:"ssim_thresh"`
	// EdgeOverlapThresh is the edge-map Jaccard overlap below which the
	// camera is considered shifted.
	EdgeOverlapThresh float64 `json:"edge_overlap_thresh"`
	// BrightnessVarThresh is the pixel variance below which the scene is
	// considered too flat to analyze (lens covered, lights off).
	BrightnessVarThresh float64 `json:"brightness_var_thresh"`
	// CooldownMinutes is the minimum spacing between recalibrations.
	CooldownMinutes float64 `json:"cooldown_minutes"`
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		SSIMThresh:          0.55,
		EdgeOverlapThresh:   0.35,
		BrightnessVarThresh: 80.0,
		CooldownMinutes:     10.0,
	}
}

// Status is the outcome of a single drift check.
type Status struct {
	SSIM           float64 `json:"ssim"`
	EdgeOverlap    float64 `json:"edge_overlap"`
	BrightnessVar  float64 `json:"brightness_var"`
	MeanBrightness float64 `json:"mean_brightness"`
	CameraShifted  bool    `json:"camera_shifted"`
	LightingBad    bool    `json:"lighting_bad"`
	DriftScore     float64 `json:"drift_score"`
}

// Monitor compares incoming frames against a stored reference and keeps
// rolling histories so single noisy frames do not trigger recalibration.
type Monitor struct {
	cfg Config
	clk clock.Clock

	refGray          *image.Gray
	refEdges         *image.Gray
	refBrightnessVar float64

	ssimHist       []float64
	overlapHist    []float64
	brightnessHist []float64 // variance samples

	lastRecalibration time.Time
}

// NewMonitor creates a Monitor. A nil clk falls back to the system clock.
func NewMonitor(cfg Config, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.System{}
	}
	return &Monitor{cfg: cfg, clk: clk}
}

// SetReference stores frame as the comparison baseline and clears histories.
func (m *Monitor) SetReference(frame image.Image) {
	gray := vision.Grayscale(frame)
	m.refGray = gray
	m.refEdges = vision.EdgeMap(gray, vision.DefaultEdgeThreshold)
	m.refBrightnessVar = vision.BrightnessVariance(gray)
	m.ssimHist = m.ssimHist[:0]
	m.overlapHist = m.overlapHist[:0]
	m.brightnessHist = m.brightnessHist[:0]
	log.Printf("[Drift] Reference frame set (%dx%d, brightness var %.1f)",
		gray.Bounds().Dx(), gray.Bounds().Dy(), m.refBrightnessVar)
}

// HasReference reports whether a baseline frame has been stored.
func (m *Monitor) HasReference() bool {
	return m.refGray != nil
}

// Update compares frame against the reference and returns the current status.
// Without a reference the metrics stay neutral and no flags are raised.
func (m *Monitor) Update(frame image.Image) Status {
	gray := vision.Grayscale(frame)
	brightness := vision.MeanBrightness(gray)
	brightnessVar := vision.BrightnessVariance(gray)

	st := Status{
		SSIM:           1.0,
		EdgeOverlap:    1.0,
		BrightnessVar:  brightnessVar,
		MeanBrightness: brightness,
	}
	if m.refGray == nil {
		return st
	}

	st.SSIM = vision.SSIM(m.refGray, gray)
	edges := vision.EdgeMap(gray, vision.DefaultEdgeThreshold)
	st.EdgeOverlap = vision.EdgeOverlap(m.refEdges, edges)

	m.ssimHist = push(m.ssimHist, st.SSIM)
	m.overlapHist = push(m.overlapHist, st.EdgeOverlap)
	m.brightnessHist = push(m.brightnessHist, brightnessVar)

	// SSIM is smoothed over the recent window; edge overlap gates on the
	// instantaneous value. Lighting uses the smoothed variance.
	meanSSIM := recentMean(m.ssimHist)
	st.CameraShifted = meanSSIM < m.cfg.SSIMThresh || st.EdgeOverlap < m.cfg.EdgeOverlapThresh
	st.LightingBad = recentMean(m.brightnessHist) < m.cfg.BrightnessVarThresh

	brightnessDelta := math.Abs(brightnessVar-m.refBrightnessVar) / 50.0
	if brightnessDelta > 1.0 {
		brightnessDelta = 1.0
	}
	st.DriftScore = 0.4*(1.0-st.SSIM) + 0.4*(1.0-st.EdgeOverlap) + 0.2*brightnessDelta
	return st
}

// ShouldRecalibrate reports whether st warrants recalibration: a drift flag
// is set (camera shifted or lighting gone bad) and the cooldown since the
// last recalibration has elapsed.
func (m *Monitor) ShouldRecalibrate(st Status) bool {
	if !st.CameraShifted && !st.LightingBad {
		return false
	}
	if !m.lastRecalibration.IsZero() {
		elapsed := m.clk.Now().Sub(m.lastRecalibration)
		if elapsed < time.Duration(m.cfg.CooldownMinutes*float64(time.Minute)) {
			return false
		}
	}
	return true
}

// MarkRecalibrated records the recalibration time for cooldown tracking.
func (m *Monitor) MarkRecalibrated() {
	m.lastRecalibration = m.clk.Now()
	log.Printf("[Drift] Recalibration marked at %s", m.lastRecalibration.Format(time.RFC3339))
}

func push(hist []float64, v float64) []float64 {
	hist = append(hist, v)
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	return hist
}

// recentMean averages the last 10 samples, or all of them if fewer exist.
func recentMean(hist []float64) float64 {
	if len(hist) == 0 {
		return 0
	}
	start := len(hist) - 10
	if start < 0 {
		start = 0
	}
	return stat.Mean(hist[start:], nil)
}
