// Package pipeline runs the per-frame processing loop: detect, filter, mask,
// track and count, with drift-triggered recalibration and async persistence.
package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"sync"
	"time"

	"linetally/internal/calibrate"
	"linetally/internal/clock"
	"linetally/internal/config"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/drift"
	"linetally/internal/roi"
	"linetally/internal/storage"
	"linetally/internal/track"
	"linetally/internal/ws"
)

// FrameSource yields frames to process. Next returns io.EOF when the source
// is exhausted (replay) and blocks for the next frame on live sources.
type FrameSource = calibrate.FrameSource

// Snapshot is the externally visible pipeline state. Published atomically
// after every frame; safe to read from other goroutines.
type Snapshot struct {
	Totals        count.Totals `json:"totals"`
	Drift         drift.Status `json:"drift"`
	Line          count.Line   `json:"line"`
	ActiveTracks  int          `json:"active_tracks"`
	FramesSeen    int64        `json:"frames_seen"`
	DroppedFrames int64        `json:"dropped_frames"`
	ROICoverage   float64      `json:"roi_coverage"`
	FPS           float64      `json:"fps"`
	// Candidates holds the proposals from the most recent recalibration run,
	// applied or not.
	Candidates []calibrate.Candidate `json:"candidates,omitempty"`
}

// Pipeline owns every processing stage. All stages are driven by the single
// Run goroutine; only Snapshot crosses goroutines.
type Pipeline struct {
	cfg     *config.Config
	det     detect.Detector
	filter  *detect.Filter
	tracker *track.Tracker
	counter *count.Counter
	gate    *roi.Gate
	monitor *drift.Monitor
	store   *storage.Store
	hub     *ws.Hub
	clk     clock.Clock

	checkEvery    int
	autoApplyConf float64
	frameHeight   float64

	framesSeen    int64
	droppedFrames int64
	startTime     time.Time
	referenceSet  bool
	candidates    []calibrate.Candidate

	mu       sync.RWMutex
	snapshot Snapshot
}

// Options carries the optional collaborators. Any field may be nil; the
// pipeline then runs without persistence, broadcasting or a custom clock.
type Options struct {
	Store *storage.Store
	Hub   *ws.Hub
	Clock clock.Clock
}

// New assembles a pipeline from the configuration. det is the detector
// backend the caller selected (HTTP or mock).
func New(cfg *config.Config, det detect.Detector, opts Options) *Pipeline {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	line := cfg.Counting.Line()
	gate := roi.NewGate(cfg.ROIGateConfig())
	gate.SetLine(line.Start, line.End)

	return &Pipeline{
		cfg:           cfg,
		det:           det,
		filter:        detect.NewFilter(cfg.FilterConfig()),
		tracker:       track.NewTracker(cfg.TrackerConfig()),
		counter:       count.NewCounter(line),
		gate:          gate,
		monitor:       drift.NewMonitor(cfg.DriftMonitorConfig(), clk),
		store:         opts.Store,
		hub:           opts.Hub,
		clk:           clk,
		checkEvery:    cfg.Drift.GetCheckEveryFrames(),
		autoApplyConf: cfg.Drift.GetAutoApplyConfidence(),
		frameHeight:   float64(cfg.Camera.GetHeight()),
	}
}

// Snapshot returns the last published pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// SetLine repoints the counting line at runtime (manual recalibration).
func (p *Pipeline) SetLine(line count.Line) {
	p.counter.SetLine(line)
	p.gate.SetLine(line.Start, line.End)
	log.Printf("[Pipeline] Line set to (%.0f,%.0f)-(%.0f,%.0f)",
		line.Start.X, line.Start.Y, line.End.X, line.End.Y)
}

// Run processes frames from src until the context is canceled or the source
// is exhausted. Per-frame failures are counted as dropped frames, never
// fatal; only source errors end the run.
func (p *Pipeline) Run(ctx context.Context, src FrameSource) error {
	p.startTime = p.clk.Now()
	log.Printf("[Pipeline] Processing loop started")

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[Pipeline] Stopping: %v", err)
			return nil
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Printf("[Pipeline] Frame source exhausted after %d frames", p.framesSeen)
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		p.processFrame(ctx, src, frame)
	}
}

func (p *Pipeline) processFrame(ctx context.Context, src FrameSource, frame image.Image) {
	now := p.clk.Now()
	p.framesSeen++

	if !p.referenceSet {
		p.monitor.SetReference(frame)
		p.referenceSet = true
	}

	driftStatus := p.lastDrift()
	if p.checkEvery > 0 && p.framesSeen%int64(p.checkEvery) == 0 {
		driftStatus = p.monitor.Update(frame)
		if p.monitor.ShouldRecalibrate(driftStatus) {
			p.recalibrate(ctx, src, frame)
		}
	}

	p.gate.Tick()

	dets, err := p.det.Detect(ctx, frame)
	if err != nil {
		p.droppedFrames++
		log.Printf("[Pipeline] Detection failed on frame %d: %v", p.framesSeen, err)
		p.publish(driftStatus, nil)
		return
	}

	filtered := p.filter.Process(dets)
	masked := p.gate.ClipDetections(filtered)
	if p.gate.CheckClipping(filtered) {
		// Safety valve tripped; the unmasked detections were already used.
		masked = filtered
	}

	tracked := p.tracker.Update(masked)
	events := p.counter.Update(tracked, now)

	if len(events) > 0 {
		if p.store != nil {
			p.store.Enqueue(events)
		}
		if p.hub != nil {
			totals := p.counter.Totals()
			for _, ev := range events {
				p.hub.BroadcastEvent(ws.NewEventMessage(ev, totals))
			}
		}
	}

	p.publish(driftStatus, tracked)
}

// recalibrate runs a warmup observation on the live source and applies the
// best candidate when it clears the confidence bar.
func (p *Pipeline) recalibrate(ctx context.Context, src FrameSource, frame image.Image) {
	log.Printf("[Pipeline] Drift detected, triggering recalibration")

	cal := calibrate.NewCalibrator(p.cfg.CalibratorConfig(), p.filter, p.cfg.TrackerConfig())
	res, err := cal.Run(ctx, src, p.det)
	if err != nil {
		log.Printf("[Pipeline] Recalibration failed: %v", err)
		return
	}
	p.candidates = res.Candidates

	// The cooldown restarts even when nothing is applied, so a bad scene
	// cannot retrigger a warmup on every drift check.
	best, ok := res.Best()
	if !ok {
		log.Printf("[Pipeline] Recalibration found no line candidates")
		p.monitor.MarkRecalibrated()
		return
	}
	if best.Confidence < p.autoApplyConf {
		log.Printf("[Pipeline] Best candidate confidence %.2f below %.2f, keeping current line",
			best.Confidence, p.autoApplyConf)
		p.monitor.MarkRecalibrated()
		return
	}

	line := best.Line
	line.MinVisibleFrames = p.counter.Line().MinVisibleFrames
	p.SetLine(line)
	p.monitor.SetReference(frame)
	p.monitor.MarkRecalibrated()
	log.Printf("[Pipeline] Recalibration complete (confidence %.2f, %d crossings)",
		best.Confidence, best.Crossings)
}

func (p *Pipeline) lastDrift() drift.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Drift
}

// publish updates the shared snapshot and pushes stats to subscribers.
func (p *Pipeline) publish(driftStatus drift.Status, tracked []track.TrackedDetection) {
	elapsed := p.clk.Now().Sub(p.startTime).Seconds()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(p.framesSeen) / elapsed
	}

	snap := Snapshot{
		Totals:        p.counter.Totals(),
		Drift:         driftStatus,
		Line:          p.counter.Line(),
		ActiveTracks:  len(tracked),
		FramesSeen:    p.framesSeen,
		DroppedFrames: p.droppedFrames,
		ROICoverage:   p.gate.Coverage(p.frameHeight),
		FPS:           fps,
		Candidates:    p.candidates,
	}

	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()

	if p.hub != nil && p.hub.HasClients() {
		msg := ws.NewStatsMessage()
		msg.Totals = snap.Totals
		msg.Drift = snap.Drift
		msg.ActiveTracks = snap.ActiveTracks
		msg.FramesSeen = snap.FramesSeen
		msg.DroppedFrames = snap.DroppedFrames
		msg.FPS = snap.FPS
		p.hub.BroadcastStats(msg)
	}
}
