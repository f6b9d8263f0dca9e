// Package calibrate proposes counting lines by watching traffic during a
// warmup window: object trajectories reveal the dominant flow direction and
// a Hough transform over the averaged background finds physical line
// candidates, which are scored by how much traffic actually crosses them.
package calibrate

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"math"
	"sort"

	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/geom"
	"linetally/internal/track"
	"linetally/internal/vision"
)

// Config controls the warmup observation and candidate generation.
type Config struct {
	// WarmupFrames is the number of frames to observe before proposing.
	WarmupFrames int `json:"warmup_frames"`
	// SampleEvery is the stride for background averaging frames.
	SampleEvery int `json:"sample_every"`
	// MinTrajPoints is the minimum trajectory length for a flow vote.
	MinTrajPoints int `json:"min_traj_points"`
	// FlowDeadZonePx ignores net vertical motion smaller than this.
	FlowDeadZonePx float64 `json:"flow_dead_zone_px"`
	// MinFlowRatio is the vote majority required to accept a direction.
	MinFlowRatio float64 `json:"min_flow_ratio"`
	// MaxAngleDeg keeps only near-horizontal candidates.
	MaxAngleDeg float64 `json:"max_angle_deg"`
	// TopK limits the number of candidates returned.
	TopK int `json:"top_k"`
	// HysteresisPx is copied onto every proposed line.
	HysteresisPx float64 `json:"hysteresis_px"`
	// HeatmapSigma blurs the trajectory heatmap artifact.
	HeatmapSigma float64 `json:"heatmap_sigma"`
}

// DefaultConfig returns the standard warmup parameters.
func DefaultConfig() Config {
	return Config{
		WarmupFrames:   600,
		SampleEvery:    10,
		MinTrajPoints:  5,
		FlowDeadZonePx: 10.0,
		MinFlowRatio:   0.6,
		MaxAngleDeg:    15.0,
		TopK:           3,
		HysteresisPx:   6.0,
		HeatmapSigma:   3.0,
	}
}

// Candidate is a proposed counting line with its traffic score.
type Candidate struct {
	Line       count.Line `json:"line"`
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence"`
	Crossings  int        `json:"crossings"`
}

// Result is the outcome of a calibration run.
type Result struct {
	Candidates    []Candidate     `json:"candidates"`
	FlowDirection count.Direction `json:"flow_direction"`
	FramesSeen    int             `json:"frames_seen"`
	Trajectories  int             `json:"trajectories"`
	Heatmap       *image.Gray     `json:"-"`
}

// Best returns the highest scoring candidate and whether one exists.
func (r Result) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// FrameSource yields frames for the warmup window. Next returns io.EOF when
// the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
}

// Calibrator accumulates warmup observations and produces line candidates.
type Calibrator struct {
	cfg     Config
	filter  *detect.Filter
	tracker *track.Tracker

	trajectories map[int64][]geom.Point
	samples      []image.Image
	framesSeen   int
	width        int
	height       int
}

// New creates a Calibrator with a fresh tracker so warmup track IDs do not
// collide with the live pipeline's.
func NewCalibrator(cfg Config, filter *detect.Filter, trackerCfg track.Config) *Calibrator {
	return &Calibrator{
		cfg:          cfg,
		filter:       filter,
		tracker:      track.NewTracker(trackerCfg),
		trajectories: make(map[int64][]geom.Point),
	}
}

// Run observes frames from src through det until the warmup window fills or
// the source is exhausted, then finalizes. Per-frame detector failures are
// logged and skipped.
func (c *Calibrator) Run(ctx context.Context, src FrameSource, det detect.Detector) (Result, error) {
	for c.framesSeen < c.cfg.WarmupFrames {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		dets, err := det.Detect(ctx, frame)
		if err != nil {
			log.Printf("[Calibrate] Detection failed on frame %d: %v", c.framesSeen, err)
			c.framesSeen++
			continue
		}
		c.Observe(frame, dets)
	}
	return c.Finalize(), nil
}

// Observe records one warmup frame and its raw detections.
func (c *Calibrator) Observe(frame image.Image, dets []detect.Detection) {
	b := frame.Bounds()
	c.width, c.height = b.Dx(), b.Dy()

	if c.framesSeen%c.cfg.SampleEvery == 0 {
		c.samples = append(c.samples, vision.Grayscale(frame))
	}
	c.framesSeen++

	tracked := c.tracker.Update(c.filter.Process(dets))
	for _, td := range tracked {
		c.trajectories[td.TrackID] = append(c.trajectories[td.TrackID], td.Centroid())
	}
}

// Finalize derives the flow direction, line candidates and heatmap from the
// observations so far. With no usable observations it returns an empty
// candidate list, never an error.
func (c *Calibrator) Finalize() Result {
	res := Result{
		FlowDirection: c.flowDirection(),
		FramesSeen:    c.framesSeen,
		Trajectories:  len(c.trajectories),
	}
	if c.width > 0 && c.height > 0 {
		hm := vision.NewHeatmap(c.width, c.height)
		for _, traj := range c.trajectories {
			for i := 1; i < len(traj); i++ {
				hm.AddSegment(traj[i-1], traj[i], 2)
			}
		}
		res.Heatmap = hm.Render(float32(c.cfg.HeatmapSigma))
	}

	// No observed traffic means nothing to score candidates against; a line
	// proposal from the background alone would be noise.
	if len(c.trajectories) == 0 {
		log.Printf("[Calibrate] Finalized: %d frames, no trajectories, no candidates", res.FramesSeen)
		return res
	}

	segments := c.candidateSegments()
	for _, seg := range segments {
		crossings := c.countCrossings(seg)
		score := 10.0*float64(crossings) + c.borderDistance(seg.Midpoint())/10.0 + seg.Length()/100.0
		conf := score / 100.0
		if conf > 1.0 {
			conf = 1.0
		}
		res.Candidates = append(res.Candidates, Candidate{
			Line: count.Line{
				Start:        seg.P1,
				End:          seg.P2,
				Direction:    res.FlowDirection,
				HysteresisPx: c.cfg.HysteresisPx,
			},
			Score:      score,
			Confidence: conf,
			Crossings:  crossings,
		})
	}
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Score > res.Candidates[j].Score
	})
	if c.cfg.TopK > 0 && len(res.Candidates) > c.cfg.TopK {
		res.Candidates = res.Candidates[:c.cfg.TopK]
	}
	log.Printf("[Calibrate] Finalized: %d frames, %d trajectories, %d candidates, flow %s",
		res.FramesSeen, res.Trajectories, len(res.Candidates), res.FlowDirection)
	return res
}

// flowDirection votes on the dominant vertical motion. Upward net motion is
// a near-to-far vote. Ties, thin majorities and empty warmups fall back to
// near-to-far.
func (c *Calibrator) flowDirection() count.Direction {
	nearToFar, farToNear := 0, 0
	for _, traj := range c.trajectories {
		if len(traj) < c.cfg.MinTrajPoints {
			continue
		}
		dy := traj[len(traj)-1].Y - traj[0].Y
		switch {
		case dy < -c.cfg.FlowDeadZonePx:
			nearToFar++
		case dy > c.cfg.FlowDeadZonePx:
			farToNear++
		}
	}
	total := nearToFar + farToNear
	if total == 0 {
		return count.NearToFar
	}
	if float64(farToNear)/float64(total) >= c.cfg.MinFlowRatio {
		return count.FarToNear
	}
	if float64(nearToFar)/float64(total) >= c.cfg.MinFlowRatio {
		return count.NearToFar
	}
	return count.NearToFar
}

// candidateSegments finds near-horizontal structure in the lower third of
// the averaged background, where the physical counting line usually sits.
func (c *Calibrator) candidateSegments() []Segment {
	avg := vision.AverageGray(c.samples)
	if avg == nil {
		return nil
	}
	lower, yOffset := vision.CropLowerThird(avg)
	w, h := lower.Bounds().Dx(), lower.Bounds().Dy()
	edgeMap := vision.EdgeMap(lower, vision.DefaultEdgeThreshold)
	edges := make([]bool, len(edgeMap.Pix))
	for i, v := range edgeMap.Pix {
		edges[i] = v > 0
	}

	var keep []Segment
	for _, seg := range houghSegments(edges, w, h, defaultHoughParams()) {
		if !c.nearHorizontal(seg) {
			continue
		}
		seg.P1.Y += float64(yOffset)
		seg.P2.Y += float64(yOffset)
		keep = append(keep, seg)
	}
	return keep
}

func (c *Calibrator) nearHorizontal(seg Segment) bool {
	dx := seg.P2.X - seg.P1.X
	dy := seg.P2.Y - seg.P1.Y
	angle := math.Abs(math.Atan2(dy, dx) * 180.0 / math.Pi)
	if angle > 90 {
		angle = 180 - angle
	}
	return angle <= c.cfg.MaxAngleDeg
}

// countCrossings counts how many distinct trajectories intersect seg.
func (c *Calibrator) countCrossings(seg Segment) int {
	n := 0
	for _, traj := range c.trajectories {
		for i := 1; i < len(traj); i++ {
			if geom.SegmentsIntersect(traj[i-1], traj[i], seg.P1, seg.P2) {
				n++
				break
			}
		}
	}
	return n
}

// borderDistance is the vertical distance from p to the nearer of the top and
// bottom frame edges. Lines in the vertical interior score higher than ones
// hugging the frame top or bottom.
func (c *Calibrator) borderDistance(p geom.Point) float64 {
	return math.Min(p.Y, float64(c.height)-p.Y)
}
