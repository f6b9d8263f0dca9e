package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linetally/internal/calibrate"
	"linetally/internal/camera"
	"linetally/internal/config"
	"linetally/internal/detect"
	"linetally/internal/tune"
)

// Standalone warmup calibration: runs the calibrator over the configured
// frame source and prints the candidate counting lines.
func main() {
	var (
		configF  = flag.String("config", "", "Path to JSON config file (built-in defaults when empty)")
		sourceF  = flag.String("source", "", "Frame source override: mock, an http(s) snapshot URL, or a frame directory")
		heatmapF = flag.String("heatmap", "", "Write the trajectory heatmap to this PNG path")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[linetally-calibrate] ", log.Ltime)
	}

	cfg := &config.Config{}
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			logger.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	source := cfg.Camera.GetSource()
	if *sourceF != "" {
		source = *sourceF
	}

	var src calibrate.FrameSource
	if source == "mock" || camera.IsNetworkSource(source) {
		cam, err := camera.Open(source, cfg.Camera.GetWidth(), cfg.Camera.GetHeight(), cfg.Camera.GetFPS())
		if err != nil {
			logger.Fatalf("failed to open frame source %q: %v", source, err)
		}
		defer cam.Close()
		src = cam
	} else {
		dir, err := tune.OpenFrameDir(source)
		if err != nil {
			logger.Fatalf("failed to open frame directory %q: %v", source, err)
		}
		src = dir
	}

	det := newDetector(cfg)
	defer det.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cal := calibrate.NewCalibrator(cfg.CalibratorConfig(), detect.NewFilter(cfg.FilterConfig()), cfg.TrackerConfig())

	logger.Printf("running warmup calibration on %q", source)
	result, err := cal.Run(ctx, src, det)
	if err != nil {
		logger.Fatalf("calibration failed: %v", err)
	}

	fmt.Printf("frames seen:     %d\n", result.FramesSeen)
	fmt.Printf("trajectories:    %d\n", result.Trajectories)
	fmt.Printf("flow direction:  %s\n", result.FlowDirection)
	fmt.Printf("candidate lines: %d\n", len(result.Candidates))
	for i, cand := range result.Candidates {
		fmt.Printf("%d. (%.0f,%.0f) -> (%.0f,%.0f) score=%.1f confidence=%.2f crossings=%d\n",
			i+1, cand.Line.Start.X, cand.Line.Start.Y, cand.Line.End.X, cand.Line.End.Y,
			cand.Score, cand.Confidence, cand.Crossings)
	}

	if *heatmapF != "" && result.Heatmap != nil {
		if err := writeHeatmap(*heatmapF, result); err != nil {
			logger.Fatalf("failed to write heatmap: %v", err)
		}
		logger.Printf("heatmap written to %s", *heatmapF)
	}
}

func writeHeatmap(path string, result calibrate.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, result.Heatmap)
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
