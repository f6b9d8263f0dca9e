package overlay

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/geom"
	"linetally/internal/track"
)

func testLine() count.Line {
	return count.Line{
		Start:     geom.Point{X: 10, Y: 60},
		End:       geom.Point{X: 110, Y: 60},
		Direction: count.NearToFar,
	}
}

func TestRenderDrawsLineAndBoxes(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 128, 96))
	tracked := []track.TrackedDetection{{
		Detection: detect.Detection{X1: 20, Y1: 20, X2: 60, Y2: 50, Conf: 0.9},
		TrackID:   7,
	}}

	out := Render(frame, testLine(), tracked, count.Totals{In: 3, Out: 1, Net: 2})

	require.NotNil(t, out)
	assert.Equal(t, frame.Bounds(), out.Bounds())

	// Line pixels are painted on the source row.
	r, g, b, _ := out.At(60, 60).RGBA()
	assert.True(t, r > 0 || g > 0 || b > 0, "line row should not be black")

	// Box left edge pixel, below the track label strip.
	_, g, _, _ = out.At(20, 40).RGBA()
	assert.NotZero(t, g, "box edge should be green")
}

func TestRenderClipsOutOfFrameBoxes(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 64, 64))
	tracked := []track.TrackedDetection{{
		Detection: detect.Detection{X1: -20, Y1: -20, X2: 100, Y2: 100, Conf: 0.5},
		TrackID:   1,
	}}

	// Must not panic on boxes larger than the frame.
	out := Render(frame, testLine(), tracked, count.Totals{})
	require.NotNil(t, out)
}

func TestEncodeJPEG(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 64, 64))
	out := Render(frame, testLine(), nil, count.Totals{})

	data, err := EncodeJPEG(out)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}
