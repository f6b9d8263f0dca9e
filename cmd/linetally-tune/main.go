package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"linetally/internal/config"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/track"
	"linetally/internal/tune"
)

// Grid-search parameter tuning over a replay clip. Meant to run as a nightly
// job against the previous day's captured frames.
func main() {
	var (
		configF = flag.String("config", "", "Path to JSON config file (built-in defaults when empty)")
		clipF   = flag.String("clip", "", "Directory of replay frames to tune against (required)")
		outF    = flag.String("out", "", "Profile output path override")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[linetally-tune] ", log.Ltime)
	}

	if *clipF == "" {
		logger.Fatal("missing required -clip flag")
	}

	cfg := &config.Config{}
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			logger.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	clip, err := tune.OpenFrameDir(*clipF)
	if err != nil {
		logger.Fatalf("failed to open clip %q: %v", *clipF, err)
	}
	logger.Printf("clip %q has %d frames", *clipF, clip.Len())

	settings := cfg.TunerSettings()
	// Invoking the tool is the enable switch; the config flag only gates the
	// in-service nightly run.
	settings.Enabled = true
	if len(settings.Grid.Combinations()) == 0 {
		settings.Grid = tune.Grid{
			ConfThresh:  []float64{0.3, 0.4, 0.5},
			MatchThresh: []float64{0.7, 0.8, 0.9},
			MinBoxArea:  []float64{100, 150, 200},
		}
		logger.Print("config grid is empty, using the default grid")
	}

	det := newDetector(cfg)
	defer det.Close()

	comp := tune.Components{
		NewFilter: func(p tune.Params) *detect.Filter {
			fc := cfg.FilterConfig()
			fc.ConfThresh = p.ConfThresh
			return detect.NewFilter(fc)
		},
		NewTracker: func(p tune.Params) *track.Tracker {
			tc := cfg.TrackerConfig()
			tc.MatchThresh = p.MatchThresh
			tc.MinBoxArea = p.MinBoxArea
			return track.NewTracker(tc)
		},
		NewCounter: func(p tune.Params) *count.Counter {
			return count.NewCounter(cfg.Counting.Line())
		},
	}

	tuner := tune.NewTuner(settings, nil)
	result, err := tuner.TuneOnClip(context.Background(), clip, det, comp)
	if err != nil {
		logger.Fatalf("tuning failed: %v", err)
	}

	for _, run := range result.AllScores {
		fmt.Printf("conf=%.2f match=%.2f area=%.0f -> score=%.3f\n",
			run.Params.ConfThresh, run.Params.MatchThresh, run.Params.MinBoxArea, run.Score)
	}
	fmt.Printf("best: conf=%.2f match=%.2f area=%.0f (score=%.3f, objective=%s)\n",
		result.BestParams.ConfThresh, result.BestParams.MatchThresh, result.BestParams.MinBoxArea,
		result.BestScore, settings.OptimizeFor)

	if !cfg.Tuner.GetKeepBestProfile() {
		logger.Print("keep_best_profile disabled, not persisting the result")
		return
	}

	profilePath := cfg.Tuner.GetProfilePath()
	if *outF != "" {
		profilePath = *outF
	}
	if err := tune.SaveProfile(profilePath, result.BestParams); err != nil {
		logger.Fatalf("failed to save profile: %v", err)
	}
	logger.Printf("best profile saved to %s", profilePath)
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
