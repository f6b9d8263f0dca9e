package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"linetally/internal/camera"
	"linetally/internal/config"
	"linetally/internal/detect"
	"linetally/internal/pipeline"
	"linetally/internal/server"
	"linetally/internal/storage"
	"linetally/internal/tune"
	"linetally/internal/ws"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		configF = flag.String("config", "", "Path to JSON config file (built-in defaults when empty)")
		sourceF = flag.String("source", "", "Frame source override: mock, an http(s) snapshot URL, or a frame directory")
		addrF   = flag.String("addr", "", "HTTP listen address override")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[linetally] ", log.Ltime)
	}

	// Load configuration.
	cfg := &config.Config{}
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			logger.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Apply a tuned parameter profile when the nightly tuner kept one.
	if prof, err := tune.LoadProfile(cfg.Tuner.GetProfilePath()); err != nil {
		logger.Printf("ignoring tuned profile: %v", err)
	} else if prof != nil {
		logger.Printf("applying tuned profile from %s", cfg.Tuner.GetProfilePath())
		cfg.ApplyProfile(prof)
	}

	// Initialize the frame source and detector backend.
	source := cfg.Camera.GetSource()
	if *sourceF != "" {
		source = *sourceF
	}
	src, closeSrc, err := openSource(source, cfg)
	if err != nil {
		logger.Fatalf("failed to open frame source %q: %v", source, err)
	}
	defer closeSrc()

	det := newDetector(cfg)
	defer det.Close()

	// Initialize storage and the stats hub.
	store, err := storage.Open(cfg.Storage.GetSQLitePath(), cfg.Storage.GetCSVDir())
	if err != nil {
		logger.Fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	hub := ws.NewHub()

	pipe := pipeline.New(cfg, det, pipeline.Options{Store: store, Hub: hub})
	srv := server.New(pipe, store, hub)

	addr := cfg.Server.GetAddr()
	if *addrF != "" {
		addr = *addrF
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server. Buffered so late
	// senders never block shutdown.
	errc := make(chan error, 3)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx, src); err != nil {
			errc <- fmt.Errorf("pipeline: %w", err)
			return
		}
		errc <- fmt.Errorf("frame source exhausted")
	}()

	go func() {
		logger.Printf("HTTP server listening on %s", addr)
		errc <- srv.ListenAndServe(addr)
	}()

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	wg.Wait()

	snap := pipe.Snapshot()
	logger.Printf("final totals: in=%d out=%d net=%d (frames=%d dropped=%d)",
		snap.Totals.In, snap.Totals.Out, snap.Totals.Net, snap.FramesSeen, snap.DroppedFrames)
	logger.Println("exited")
}

// openSource resolves the configured frame source. "mock" and http(s) URLs go
// through the camera package; anything else is treated as a replay directory.
func openSource(source string, cfg *config.Config) (pipeline.FrameSource, func() error, error) {
	if source == "mock" || camera.IsNetworkSource(source) {
		cam, err := camera.Open(source, cfg.Camera.GetWidth(), cfg.Camera.GetHeight(), cfg.Camera.GetFPS())
		if err != nil {
			return nil, nil, err
		}
		return cam, cam.Close, nil
	}
	dir, err := tune.OpenFrameDir(source)
	if err != nil {
		return nil, nil, err
	}
	return dir, func() error { return nil }, nil
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
