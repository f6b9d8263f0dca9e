// Package camera provides live frame sources: an HTTP still-image poller
// for network cameras and a synthetic generator for development without
// hardware.
package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"strings"
	"time"
)

// Synthetic generates flat gray frames at the configured rate. Paired with
// the mock detector it exercises the whole pipeline without a camera.
type Synthetic struct {
	width  int
	height int
	ticker *time.Ticker
	count  int
}

// NewSynthetic creates a generator producing fps frames per second.
func NewSynthetic(width, height, fps int) *Synthetic {
	if fps <= 0 {
		fps = 15
	}
	return &Synthetic{
		width:  width,
		height: height,
		ticker: time.NewTicker(time.Second / time.Duration(fps)),
	}
}

// Next blocks until the next frame interval and returns a synthetic frame.
func (s *Synthetic) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	// A slowly cycling base level so consecutive frames are not identical.
	base := uint8(96 + (s.count % 32))
	for i := range img.Pix {
		img.Pix[i] = base
	}
	// Fixed dark band where a counting line would plausibly sit.
	bandY := s.height * 2 / 3
	for y := bandY; y < bandY+4 && y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetGray(x, y, color.Gray{Y: 20})
		}
	}
	s.count++
	return img, nil
}

// Close stops the frame ticker.
func (s *Synthetic) Close() error {
	s.ticker.Stop()
	return nil
}

// HTTPPoller fetches still images from a network camera endpoint at the
// configured rate.
type HTTPPoller struct {
	url    string
	client *http.Client
	ticker *time.Ticker
}

// NewHTTPPoller polls url fps times per second.
func NewHTTPPoller(url string, fps int) *HTTPPoller {
	if fps <= 0 {
		fps = 5
	}
	return &HTTPPoller{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ticker: time.NewTicker(time.Second / time.Duration(fps)),
	}
}

// Next blocks until the next poll interval, fetches and decodes a frame.
func (p *HTTPPoller) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ticker.C:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build frame request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera endpoint returned %d", resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close stops the poll ticker.
func (p *HTTPPoller) Close() error {
	p.ticker.Stop()
	return nil
}

// IsNetworkSource reports whether the configured source is a camera URL.
func IsNetworkSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Source is a closeable frame source.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Open selects a live source for the configured string: "mock" for the
// synthetic generator or an HTTP URL for a network camera. Directory replay
// sources are handled by the caller.
func Open(source string, width, height, fps int) (Source, error) {
	switch {
	case source == "mock":
		log.Printf("[Camera] Using synthetic %dx%d source at %d fps", width, height, fps)
		return NewSynthetic(width, height, fps), nil
	case IsNetworkSource(source):
		log.Printf("[Camera] Polling %s at %d fps", source, fps)
		return NewHTTPPoller(source, fps), nil
	default:
		return nil, fmt.Errorf("unsupported camera source %q", source)
	}
}
