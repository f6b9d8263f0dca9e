package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linetally/internal/detect"
)

func testConfig() Config {
	return Config{
		TrackThresh: 0.5,
		MatchThresh: 0.3,
		MinBoxArea:  100,
		LostTTL:     5,
	}
}

func det(x1, y1, x2, y2, conf float64) detect.Detection {
	return detect.Detection{X1: x1, Y1: y1, X2: x2, Y2: y2, Conf: conf, ClassID: 41}
}

func TestTrackerCreatesDistinctTracks(t *testing.T) {
	tr := NewTracker(testConfig())

	out := tr.Update([]detect.Detection{
		det(0, 0, 50, 50, 0.9),
		det(300, 300, 350, 350, 0.9),
	})
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].TrackID, out[1].TrackID)
	assert.Equal(t, int64(1), out[0].TrackID)
	assert.Equal(t, int64(2), out[1].TrackID)
}

func TestTrackerIdentityPersistsAcrossSmallShift(t *testing.T) {
	tr := NewTracker(testConfig())

	first := tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	require.Len(t, first, 1)

	// Shift by a few pixels: IoU stays above the match threshold.
	second := tr.Update([]detect.Detection{det(103, 102, 153, 152, 0.9)})
	require.Len(t, second, 1)
	assert.Equal(t, first[0].TrackID, second[0].TrackID)
}

func TestTrackerJumpSpawnsNewTrack(t *testing.T) {
	tr := NewTracker(testConfig())

	first := tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	require.Len(t, first, 1)

	// Far jump: no IoU overlap, so a new identity is created and the
	// original track starts accumulating lost frames.
	second := tr.Update([]detect.Detection{det(500, 500, 550, 550, 0.9)})
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].TrackID, second[0].TrackID)
	assert.Equal(t, 2, tr.ActiveTracks())
}

func TestTrackerEvictionAfterTTL(t *testing.T) {
	tr := NewTracker(testConfig())

	tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	require.Equal(t, 1, tr.ActiveTracks())

	// TTL=5: after 6 empty updates the track must be gone.
	for i := 0; i < 6; i++ {
		tr.Update(nil)
	}
	assert.Equal(t, 0, tr.ActiveTracks())
}

func TestTrackerMinBoxArea(t *testing.T) {
	tr := NewTracker(testConfig())

	// 5x5 box = 25 px^2, below the 100 px^2 minimum.
	out := tr.Update([]detect.Detection{det(0, 0, 5, 5, 0.9)})
	assert.Empty(t, out)
	assert.Equal(t, 0, tr.ActiveTracks())

	// Nor can a tiny detection match an existing track.
	tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	out = tr.Update([]detect.Detection{det(100, 100, 105, 105, 0.9)})
	assert.Empty(t, out)
}

func TestTrackerLowConfidenceReacquisition(t *testing.T) {
	tr := NewTracker(testConfig())

	first := tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	require.Len(t, first, 1)
	id := first[0].TrackID

	// Track unmatched for a frame, then re-acquired by a low-confidence
	// detection at the same place: same identity, not a new track.
	tr.Update(nil)
	out := tr.Update([]detect.Detection{det(101, 101, 151, 151, 0.3)})
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].TrackID)
	assert.Equal(t, 1, tr.ActiveTracks())
}

func TestTrackerLowConfidenceNeverSpawns(t *testing.T) {
	tr := NewTracker(testConfig())

	out := tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.3)})
	assert.Empty(t, out)
	assert.Equal(t, 0, tr.ActiveTracks())
}

func TestTrackerAgeAccumulates(t *testing.T) {
	tr := NewTracker(testConfig())

	tr.Update([]detect.Detection{det(100, 100, 150, 150, 0.9)})
	tr.Update([]detect.Detection{det(101, 101, 151, 151, 0.9)})
	tr.Update([]detect.Detection{det(102, 102, 152, 152, 0.9)})

	require.Equal(t, 1, tr.ActiveTracks())
	for _, trk := range tr.tracks {
		assert.Equal(t, 3, trk.Age)
		assert.Equal(t, 0, trk.LostFrames)
	}
}

func TestTrackerGreedyFirstFoundWinsTies(t *testing.T) {
	tr := NewTracker(testConfig())

	tr.Update([]detect.Detection{det(100, 100, 200, 200, 0.9)})

	// Two detections with identical IoU against the track: the first in
	// detection order wins, the second spawns a new track.
	out := tr.Update([]detect.Detection{
		det(100, 100, 200, 200, 0.8),
		det(100, 100, 200, 200, 0.7),
	})
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].TrackID)
	assert.Equal(t, 0.8, out[0].Conf)
	assert.Equal(t, int64(2), out[1].TrackID)
}
