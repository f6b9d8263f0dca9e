package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"linetally/internal/config"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/overlay"
	"linetally/internal/storage"
	"linetally/internal/track"
	"linetally/internal/tune"
)

// Backfill tool: replays a directory of frames through the counting stack,
// persists the crossings and rolls up the day.
func main() {
	var (
		configF    = flag.String("config", "", "Path to JSON config file (built-in defaults when empty)")
		framesF    = flag.String("frames", "", "Directory of frames to replay (required)")
		annotatedF = flag.String("annotated", "", "Write annotated JPEG frames to this directory")
		exportF    = flag.Bool("export", false, "Export the day's counts to CSV after the replay")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[linetally-replay] ", log.Ltime)
	}

	if *framesF == "" {
		logger.Fatal("missing required -frames flag")
	}

	cfg := &config.Config{}
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			logger.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	clip, err := tune.OpenFrameDir(*framesF)
	if err != nil {
		logger.Fatalf("failed to open frames %q: %v", *framesF, err)
	}
	logger.Printf("replaying %d frames from %q", clip.Len(), *framesF)

	if *annotatedF != "" {
		if err := os.MkdirAll(*annotatedF, 0o755); err != nil {
			logger.Fatalf("failed to create annotated dir: %v", err)
		}
	}

	det := newDetector(cfg)
	defer det.Close()

	store, err := storage.Open(cfg.Storage.GetSQLitePath(), cfg.Storage.GetCSVDir())
	if err != nil {
		logger.Fatalf("failed to open storage: %v", err)
	}

	var (
		filter  = detect.NewFilter(cfg.FilterConfig())
		tracker = track.NewTracker(cfg.TrackerConfig())
		counter = count.NewCounter(cfg.Counting.Line())
	)

	ctx := context.Background()
	frameNum := 0
	dropped := 0
	for {
		frame, err := clip.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Fatalf("failed to read frame %d: %v", frameNum, err)
		}
		frameNum++

		dets, err := det.Detect(ctx, frame)
		if err != nil {
			dropped++
			continue
		}
		tracked := tracker.Update(filter.Process(dets))
		events := counter.Update(tracked, time.Now().UTC())
		if len(events) > 0 {
			store.Enqueue(events)
		}

		if *annotatedF != "" {
			if err := writeAnnotated(*annotatedF, frameNum, frame, counter, tracked); err != nil {
				logger.Fatalf("failed to write annotated frame %d: %v", frameNum, err)
			}
		}

		if frameNum%100 == 0 {
			totals := counter.Totals()
			logger.Printf("processed %d frames (in=%d out=%d)", frameNum, totals.In, totals.Out)
		}
	}

	totals := counter.Totals()
	fmt.Printf("frames: %d (dropped %d)\n", frameNum, dropped)
	fmt.Printf("totals: in=%d out=%d net=%d\n", totals.In, totals.Out, totals.Net)

	// Close drains the write queue, then reopen for the day rollup.
	if err := store.Close(); err != nil {
		logger.Fatalf("failed to close storage: %v", err)
	}
	store, err = storage.Open(cfg.Storage.GetSQLitePath(), cfg.Storage.GetCSVDir())
	if err != nil {
		logger.Fatalf("failed to reopen storage: %v", err)
	}
	defer store.Close()

	day := time.Now().UTC().Format("2006-01-02")
	rollup, err := store.RollupDay(day)
	if err != nil {
		logger.Fatalf("failed to roll up %s: %v", day, err)
	}
	fmt.Printf("rollup %s: in=%d out=%d net=%d\n", rollup.Day, rollup.In, rollup.Out, rollup.Net)

	if *exportF {
		path, err := store.ExportCSV(day)
		if err != nil {
			logger.Fatalf("failed to export CSV: %v", err)
		}
		logger.Printf("CSV exported to %s", path)
	}
}

func writeAnnotated(dir string, frameNum int, frame image.Image, counter *count.Counter, tracked []track.TrackedDetection) error {
	img := overlay.Render(frame, counter.Line(), tracked, counter.Totals())
	buf, err := overlay.EncodeJPEG(img)
	if err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", frameNum))
	return os.WriteFile(name, buf, 0o644)
}

func newDetector(cfg *config.Config) detect.Detector {
	if endpoint := cfg.Detector.GetEndpoint(); endpoint != "" {
		return detect.NewHTTPDetector(detect.HTTPDetectorConfig{
			Endpoint: endpoint,
			Timeout:  time.Duration(cfg.Detector.GetTimeoutSecs() * float64(time.Second)),
		})
	}
	return detect.NewMockDetector(0, time.Now().UnixNano())
}
