package tune

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// FrameDir replays a directory of still frames (JPEG or PNG) in filename
// order. It satisfies both the tuner's Clip and the calibrator's frame
// source.
type FrameDir struct {
	paths []string
	pos   int
}

// OpenFrameDir lists the supported image files under dir. An empty or
// missing directory is an error since a replay with no frames is always a
// misconfiguration.
func OpenFrameDir(dir string) (*FrameDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open clip dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)
	return &FrameDir{paths: paths}, nil
}

// Rewind restarts the clip from the first frame.
func (f *FrameDir) Rewind() error {
	f.pos = 0
	return nil
}

// Next decodes and returns the next frame, or io.EOF past the end.
func (f *FrameDir) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.pos >= len(f.paths) {
		return nil, io.EOF
	}
	path := f.paths[f.pos]
	f.pos++

	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

// Len returns the number of frames in the clip.
func (f *FrameDir) Len() int {
	return len(f.paths)
}
