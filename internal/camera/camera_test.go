package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticProducesFrames(t *testing.T) {
	src := NewSynthetic(64, 48, 100)
	defer src.Close()

	a, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, a.Bounds().Dx())
	assert.Equal(t, 48, a.Bounds().Dy())

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	// Consecutive frames differ so drift metrics see motion-free change.
	ga, gb := a.(*image.Gray), b.(*image.Gray)
	assert.NotEqual(t, ga.Pix[0], gb.Pix[0])
}

func TestSyntheticHonorsCancel(t *testing.T) {
	src := NewSynthetic(64, 48, 1)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.Error(t, err)
}

func TestHTTPPollerFetchesFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32)), nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	p := NewHTTPPoller(srv.URL, 100)
	defer p.Close()

	img, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestHTTPPollerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPPoller(srv.URL, 100)
	defer p.Close()

	_, err := p.Next(context.Background())
	assert.Error(t, err)
}

func TestOpenSelectsSource(t *testing.T) {
	src, err := Open("mock", 64, 48, 10)
	require.NoError(t, err)
	src.Close()
	assert.IsType(t, &Synthetic{}, src)

	src, err = Open("http://cam.local/still.jpg", 64, 48, 10)
	require.NoError(t, err)
	src.Close()
	assert.IsType(t, &HTTPPoller{}, src)

	_, err = Open("/dev/video0", 64, 48, 10)
	assert.Error(t, err)
}
