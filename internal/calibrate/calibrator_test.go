package calibrate

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/geom"
	"linetally/internal/track"
)

func testTrackerConfig() track.Config {
	return track.Config{
		TrackThresh: 0.3,
		MatchThresh: 0.2,
		MinBoxArea:  1,
		LostTTL:     10,
	}
}

func testCalibrator() *Calibrator {
	filter := detect.NewFilter(detect.FilterConfig{ConfThresh: 0.25, IoUThresh: 0.5, MaxDetections: 50})
	return NewCalibrator(DefaultConfig(), filter, testTrackerConfig())
}

// stripeFrame is a white frame with a dark horizontal band at rows y0..y1.
func stripeFrame(w, h, y0, y1 int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		v := uint8(255)
		if y >= y0 && y <= y1 {
			v = 0
		}
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func boxAt(cx, cy float64) detect.Detection {
	return detect.Detection{X1: cx - 10, Y1: cy - 10, X2: cx + 10, Y2: cy + 10, Conf: 0.9}
}

func TestFlowDirectionUpwardMotion(t *testing.T) {
	c := testCalibrator()
	c.trajectories[1] = vertTraj(90, -3, 10)
	c.trajectories[2] = vertTraj(85, -3, 10)

	assert.Equal(t, count.NearToFar, c.flowDirection())
}

func TestFlowDirectionDownwardMajority(t *testing.T) {
	c := testCalibrator()
	c.trajectories[1] = vertTraj(20, 3, 10)
	c.trajectories[2] = vertTraj(25, 3, 10)
	c.trajectories[3] = vertTraj(90, -3, 10)

	assert.Equal(t, count.FarToNear, c.flowDirection())
}

func TestFlowDirectionIgnoresDeadZoneAndShortTracks(t *testing.T) {
	c := testCalibrator()
	// Net displacement 8px stays inside the 10px dead zone.
	c.trajectories[1] = vertTraj(50, 1, 9)
	// Long displacement but too few points for a vote.
	c.trajectories[2] = vertTraj(90, -20, 3)

	assert.Equal(t, count.NearToFar, c.flowDirection())
}

func TestFlowDirectionSplitVoteDefaults(t *testing.T) {
	c := testCalibrator()
	c.trajectories[1] = vertTraj(20, 3, 10)
	c.trajectories[2] = vertTraj(90, -3, 10)

	assert.Equal(t, count.NearToFar, c.flowDirection())
}

func vertTraj(startY, stepY float64, n int) []geom.Point {
	pts := make([]geom.Point, n)
	for i := range pts {
		pts[i] = geom.Point{X: 60, Y: startY + float64(i)*stepY}
	}
	return pts
}

func TestFinalizeEmptyWarmup(t *testing.T) {
	c := testCalibrator()

	res := c.Finalize()

	assert.Empty(t, res.Candidates)
	assert.Equal(t, count.NearToFar, res.FlowDirection)
	assert.Zero(t, res.FramesSeen)
	_, ok := res.Best()
	assert.False(t, ok)
}

func TestNoTrajectoriesYieldsNoCandidates(t *testing.T) {
	c := testCalibrator()
	frame := stripeFrame(128, 96, 78, 82)

	// Strong background structure but zero observed traffic.
	for i := 0; i < 40; i++ {
		c.Observe(frame, nil)
	}

	res := c.Finalize()

	assert.Zero(t, res.Trajectories)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 40, res.FramesSeen)
}

func TestWarmupProposesStripeLine(t *testing.T) {
	c := testCalibrator()
	frame := stripeFrame(128, 96, 78, 82)

	// One object moving upward through the stripe.
	y := 90.0
	for i := 0; i < 40; i++ {
		c.Observe(frame, []detect.Detection{boxAt(60, y)})
		y -= 2
	}

	res := c.Finalize()

	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, count.NearToFar, res.FlowDirection)
	assert.Equal(t, 40, res.FramesSeen)
	require.NotNil(t, res.Heatmap)

	best, ok := res.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Crossings)
	assert.GreaterOrEqual(t, best.Score, 10.0)
	assert.LessOrEqual(t, best.Confidence, 1.0)
	assert.Greater(t, best.Confidence, 0.0)
	assert.Equal(t, count.NearToFar, best.Line.Direction)
	assert.InDelta(t, 6.0, best.Line.HysteresisPx, 0.001)
	// The proposed line sits on the stripe in full-frame coordinates.
	assert.InDelta(t, 80.0, best.Line.Start.Y, 8.0)
	// Scores are sorted descending.
	for i := 1; i < len(res.Candidates); i++ {
		assert.GreaterOrEqual(t, res.Candidates[i-1].Score, res.Candidates[i].Score)
	}
}

func TestHoughFindsHorizontalSegment(t *testing.T) {
	w, h := 100, 50
	edges := make([]bool, w*h)
	for x := 10; x < 90; x++ {
		edges[25*w+x] = true
	}

	segs := houghSegments(edges, w, h, defaultHoughParams())

	require.NotEmpty(t, segs)
	best := segs[0]
	assert.InDelta(t, 25.0, best.P1.Y, 2.0)
	assert.InDelta(t, 25.0, best.P2.Y, 2.0)
	assert.GreaterOrEqual(t, best.Length(), 70.0)
}

func TestHoughRespectsGapLimit(t *testing.T) {
	w, h := 100, 50
	edges := make([]bool, w*h)
	// Two collinear runs separated by a 20px hole.
	for x := 0; x < 40; x++ {
		edges[25*w+x] = true
	}
	for x := 60; x < 100; x++ {
		edges[25*w+x] = true
	}

	segs := houghSegments(edges, w, h, houghParams{voteThresh: 40, minLength: 30, maxGap: 5, maxLines: 8})

	require.NotEmpty(t, segs)
	for _, s := range segs {
		assert.Less(t, s.Length(), 55.0)
	}
}

func TestHoughEmptyEdges(t *testing.T) {
	assert.Empty(t, houghSegments(make([]bool, 100*50), 100, 50, defaultHoughParams()))
	assert.Empty(t, houghSegments(nil, 0, 0, defaultHoughParams()))
}

func TestBorderDistanceIsVerticalOnly(t *testing.T) {
	c := testCalibrator()
	c.width, c.height = 128, 96

	// Horizontal position must not matter: a midpoint hugging the left
	// border scores the same as one in the horizontal center.
	assert.InDelta(t, 48.0, c.borderDistance(geom.Point{X: 5, Y: 48}), 1e-9)
	assert.InDelta(t, 48.0, c.borderDistance(geom.Point{X: 64, Y: 48}), 1e-9)
	assert.InDelta(t, 16.0, c.borderDistance(geom.Point{X: 64, Y: 80}), 1e-9)
}

func TestNearHorizontalRejectsDiagonal(t *testing.T) {
	c := testCalibrator()

	flat := Segment{P1: geom.Point{X: 0, Y: 10}, P2: geom.Point{X: 100, Y: 20}}
	steep := Segment{P1: geom.Point{X: 0, Y: 0}, P2: geom.Point{X: 100, Y: 100}}
	reversed := Segment{P1: geom.Point{X: 100, Y: 20}, P2: geom.Point{X: 0, Y: 10}}

	assert.True(t, c.nearHorizontal(flat))
	assert.False(t, c.nearHorizontal(steep))
	assert.True(t, c.nearHorizontal(reversed))
}
