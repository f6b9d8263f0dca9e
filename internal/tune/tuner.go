// Package tune grid-searches detection and tracking parameters against
// recorded replay clips, scoring each combination by crossing stability.
package tune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"

	"linetally/internal/clock"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/track"
)

// Params is one point in the search grid.
type Params struct {
	ConfThresh  float64 `json:"conf_thresh"`
	MatchThresh float64 `json:"match_thresh"`
	MinBoxArea  float64 `json:"min_box_area"`
}

// Grid lists the candidate values per axis.
type Grid struct {
	ConfThresh  []float64 `json:"conf_thresh"`
	MatchThresh []float64 `json:"match_thresh"`
	MinBoxArea  []float64 `json:"min_box_area"`
}

// Combinations expands the grid into the full cartesian product, in a fixed
// order so repeated runs visit combinations identically.
func (g Grid) Combinations() []Params {
	var out []Params
	for _, c := range g.ConfThresh {
		for _, m := range g.MatchThresh {
			for _, a := range g.MinBoxArea {
				out = append(out, Params{ConfThresh: c, MatchThresh: m, MinBoxArea: a})
			}
		}
	}
	return out
}

// Policy selects the scoring objective.
type Policy string

const (
	// StableCrossings rewards many tracks that cross exactly once.
	StableCrossings Policy = "stable_crossings"
	// MinDoubleCounts penalizes tracks counted more than once.
	MinDoubleCounts Policy = "min_double_counts"
)

// Config controls the tuner.
type Config struct {
	Enabled         bool   `json:"enabled"`
	Grid            Grid   `json:"grid"`
	OptimizeFor     Policy `json:"optimize_for"`
	KeepBestProfile bool   `json:"keep_best_profile"`
}

// RunScore pairs a parameter combination with its score.
type RunScore struct {
	Params Params  `json:"params"`
	Score  float64 `json:"score"`
}

// Result is the outcome of a grid search.
type Result struct {
	BestParams Params     `json:"best_params"`
	BestScore  float64    `json:"best_score"`
	AllScores  []RunScore `json:"all_scores"`
}

// Clip is a rewindable frame sequence. Next returns io.EOF when exhausted.
type Clip interface {
	Rewind() error
	Next(ctx context.Context) (image.Image, error)
}

// Components builds the per-run pipeline stages from a parameter set. Each
// grid combination gets fresh instances so no state leaks between runs.
type Components struct {
	NewFilter  func(Params) *detect.Filter
	NewTracker func(Params) *track.Tracker
	NewCounter func(Params) *count.Counter
}

// Tuner runs the grid search.
type Tuner struct {
	cfg Config
	clk clock.Clock
}

// NewTuner creates a Tuner. A nil clk falls back to the system clock.
func NewTuner(cfg Config, clk clock.Clock) *Tuner {
	if clk == nil {
		clk = clock.System{}
	}
	return &Tuner{cfg: cfg, clk: clk}
}

// TuneOnClip replays clip once per grid combination and returns the best
// scoring parameter set. A disabled tuner returns an empty result.
func (t *Tuner) TuneOnClip(ctx context.Context, clip Clip, det detect.Detector, comp Components) (Result, error) {
	if !t.cfg.Enabled {
		return Result{}, nil
	}

	combos := t.cfg.Grid.Combinations()
	log.Printf("[Tuner] Testing %d parameter combinations", len(combos))

	res := Result{BestScore: -1.0}
	for _, params := range combos {
		if err := clip.Rewind(); err != nil {
			return Result{}, fmt.Errorf("rewind clip: %w", err)
		}

		filter := comp.NewFilter(params)
		tracker := comp.NewTracker(params)
		counter := comp.NewCounter(params)
		crossings := make(map[int64]int)
		total := 0

		for {
			frame, err := clip.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, err
				}
				log.Printf("[Tuner] Skipping unreadable frame: %v", err)
				continue
			}
			dets, err := det.Detect(ctx, frame)
			if err != nil {
				log.Printf("[Tuner] Detection failed: %v", err)
				continue
			}
			tracked := tracker.Update(filter.Process(dets))
			for _, ev := range counter.Update(tracked, t.clk.Now()) {
				crossings[ev.TrackID]++
				total++
			}
		}

		score := Score(t.cfg.OptimizeFor, total, crossings)
		res.AllScores = append(res.AllScores, RunScore{Params: params, Score: score})
		if score > res.BestScore {
			res.BestScore = score
			res.BestParams = params
		}
	}

	log.Printf("[Tuner] Best params %+v (score %.2f)", res.BestParams, res.BestScore)
	return res, nil
}

// Score rates one replay run. totalCrossings is the event count and
// crossings maps track ID to how many times that track was counted.
// Higher is better; scores never go below zero.
func Score(policy Policy, totalCrossings int, crossings map[int64]int) float64 {
	switch policy {
	case StableCrossings:
		uniqueTracks := len(crossings)
		if uniqueTracks == 0 {
			return 0.0
		}
		singles, doubles := 0, 0
		for _, n := range crossings {
			if n == 1 {
				singles++
			} else if n > 1 {
				doubles++
			}
		}
		score := float64(uniqueTracks)*(float64(singles)/float64(uniqueTracks)) - float64(doubles)*0.5
		if score < 0 {
			return 0.0
		}
		return score

	case MinDoubleCounts:
		if totalCrossings == 0 {
			return 0.0
		}
		doubles := 0
		for _, n := range crossings {
			if n > 1 {
				doubles++
			}
		}
		score := float64(len(crossings))/float64(totalCrossings) - float64(doubles)*2.0
		if score < 0 {
			return 0.0
		}
		return score
	}
	return 0.0
}

// Profile is a partial parameter override persisted between runs. Absent
// fields leave the configured value untouched.
type Profile struct {
	ConfThresh  *float64 `json:"conf_thresh,omitempty"`
	MatchThresh *float64 `json:"match_thresh,omitempty"`
	MinBoxArea  *float64 `json:"min_box_area,omitempty"`
}

// SaveProfile writes the best parameters as an override profile.
func SaveProfile(path string, p Params) error {
	prof := Profile{
		ConfThresh:  &p.ConfThresh,
		MatchThresh: &p.MatchThresh,
		MinBoxArea:  &p.MinBoxArea,
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	log.Printf("[Tuner] Best profile saved to %s", path)
	return nil
}

// LoadProfile reads an override profile. A missing file is not an error and
// yields a nil profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if prof.ConfThresh == nil && prof.MatchThresh == nil && prof.MinBoxArea == nil {
		return nil, nil
	}
	return &prof, nil
}

// Apply overlays the profile's set fields onto p.
func (prof *Profile) Apply(p Params) Params {
	if prof == nil {
		return p
	}
	if prof.ConfThresh != nil {
		p.ConfThresh = *prof.ConfThresh
	}
	if prof.MatchThresh != nil {
		p.MatchThresh = *prof.MatchThresh
	}
	if prof.MinBoxArea != nil {
		p.MinBoxArea = *prof.MinBoxArea
	}
	return p
}
