package drift

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"linetally/internal/clock"
)

func flatGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func checkerboard(w, h, cell, phase int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x+phase)/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 220})
			} else {
				img.SetGray(x, y, color.Gray{Y: 30})
			}
		}
	}
	return img
}

func TestUpdateWithoutReferenceIsNeutral(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))

	st := m.Update(checkerboard(64, 64, 8, 0))

	assert.False(t, m.HasReference())
	assert.Equal(t, 1.0, st.SSIM)
	assert.Equal(t, 1.0, st.EdgeOverlap)
	assert.False(t, st.CameraShifted)
	assert.Zero(t, st.DriftScore)
}

func TestIdenticalFrameShowsNoDrift(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	ref := checkerboard(64, 64, 8, 0)
	m.SetReference(ref)

	st := m.Update(ref)

	assert.Greater(t, st.SSIM, 0.95)
	assert.Greater(t, st.EdgeOverlap, 0.95)
	assert.False(t, st.CameraShifted)
	assert.Less(t, st.DriftScore, 0.1)
}

func TestShiftedFrameRaisesCameraShifted(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	m.SetReference(checkerboard(64, 64, 8, 0))

	var st Status
	for i := 0; i < 12; i++ {
		st = m.Update(checkerboard(64, 64, 8, 4))
	}

	assert.Less(t, st.SSIM, 0.55)
	assert.Less(t, st.EdgeOverlap, 1.0)
	assert.True(t, st.CameraShifted)
	assert.Greater(t, st.DriftScore, 0.3)
}

func TestLowEdgeOverlapAloneFlagsShift(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	m.SetReference(checkerboard(64, 64, 8, 0))

	// A single frame with no matching edges trips the instantaneous
	// edge-overlap gate even while the SSIM window is still healthy.
	for i := 0; i < 9; i++ {
		m.Update(checkerboard(64, 64, 8, 0))
	}
	st := m.Update(flatGray(64, 64, 128))

	assert.Greater(t, recentMean(m.ssimHist), 0.55)
	assert.Less(t, st.EdgeOverlap, 0.35)
	assert.True(t, st.CameraShifted)
}

func TestSingleNoisyFrameDoesNotTrip(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	ref := checkerboard(64, 64, 8, 0)
	m.SetReference(ref)

	for i := 0; i < 9; i++ {
		m.Update(ref)
	}
	st := m.Update(checkerboard(64, 64, 8, 4))

	// One bad frame out of the last ten keeps the SSIM window healthy, and
	// the shared horizontal edges keep the overlap above its threshold.
	assert.False(t, st.CameraShifted)
}

func TestFlatFrameFlagsLighting(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	m.SetReference(checkerboard(64, 64, 8, 0))

	st := m.Update(flatGray(64, 64, 10))

	assert.True(t, st.LightingBad)
	assert.True(t, m.ShouldRecalibrate(st))
}

func TestLightingUsesVarianceNotMean(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	m.SetReference(checkerboard(64, 64, 8, 0))

	// Bright but featureless: high mean brightness, near-zero variance.
	st := m.Update(flatGray(64, 64, 200))

	assert.Greater(t, st.MeanBrightness, 100.0)
	assert.Less(t, st.BrightnessVar, 80.0)
	assert.True(t, st.LightingBad)
}

func TestLightingBadAloneTriggersRecalibration(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMonitor(DefaultConfig(), clk)
	m.SetReference(checkerboard(64, 64, 8, 0))

	st := Status{CameraShifted: false, LightingBad: true}
	assert.True(t, m.ShouldRecalibrate(st))

	m.MarkRecalibrated()
	assert.False(t, m.ShouldRecalibrate(st))
}

func TestRecalibrationCooldown(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.CooldownMinutes = 10
	m := NewMonitor(cfg, clk)
	m.SetReference(checkerboard(64, 64, 8, 0))

	var st Status
	for i := 0; i < 12; i++ {
		st = m.Update(checkerboard(64, 64, 8, 4))
	}
	assert.True(t, m.ShouldRecalibrate(st))

	m.MarkRecalibrated()
	assert.False(t, m.ShouldRecalibrate(st))

	clk.Advance(5 * time.Minute)
	assert.False(t, m.ShouldRecalibrate(st))

	clk.Advance(6 * time.Minute)
	assert.True(t, m.ShouldRecalibrate(st))
}

func TestSetReferenceClearsHistory(t *testing.T) {
	m := NewMonitor(DefaultConfig(), clock.NewFake(time.Now()))
	m.SetReference(checkerboard(64, 64, 8, 0))
	for i := 0; i < 12; i++ {
		m.Update(checkerboard(64, 64, 8, 4))
	}

	shifted := checkerboard(64, 64, 8, 4)
	m.SetReference(shifted)
	st := m.Update(shifted)

	assert.False(t, st.CameraShifted)
	assert.Greater(t, st.SSIM, 0.95)
}
