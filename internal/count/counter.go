// Package count implements direction-aware line-crossing counting with
// hysteresis and per-track debounce over tracked detections.
package count

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"linetally/internal/detect"
	"linetally/internal/geom"
	"linetally/internal/track"
)

// Direction maps the geometric sides of the line to semantic in/out.
type Direction string

const (
	// NearToFar counts near→far crossings as "in".
	NearToFar Direction = "near_to_far"
	// FarToNear counts far→near crossings as "in".
	FarToNear Direction = "far_to_near"
)

// Side is the named side of the counting line a point sits on.
type Side string

const (
	SideNear      Side = "near"
	SideFar       Side = "far"
	SideAmbiguous Side = "ambiguous" // Within the hysteresis band
)

// Line is the counting line configuration. Mutated only via SetLine during
// (re)calibration; endpoints must be distinct (caller-validated).
type Line struct {
	Start            geom.Point
	End              geom.Point
	Direction        Direction
	HysteresisPx     float64
	MinVisibleFrames int
}

// CrossingEvent records one counted crossing. Emitted at most once per
// physical crossing per track.
type CrossingEvent struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"ts_utc"`
	Direction string           `json:"direction"` // "in" or "out"
	TrackID   int64            `json:"track_id"`
	BBox      detect.Detection `json:"bbox"`
	Conf      float64          `json:"conf"`
}

// trackState is the counter-owned per-track state.
type trackState struct {
	lastCentroid  *geom.Point
	lastSide      Side
	visibleFrames int
	crossed       bool
}

// Counter consumes tracked detections and emits crossing events. Owned by
// the processing goroutine; not safe for concurrent use.
type Counter struct {
	line   Line
	states map[int64]*trackState

	inCount  int64
	outCount int64
}

// Totals is the running counter state.
type Totals struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
	Net int64 `json:"net"`
}

// NewCounter creates a counter for the given line.
func NewCounter(line Line) *Counter {
	return &Counter{
		line:   line,
		states: make(map[int64]*trackState),
	}
}

// Line returns the current counting line.
func (c *Counter) Line() Line {
	return c.line
}

// SetLine replaces the counting line, used when calibration moves it.
// Per-track state is kept; side assignments re-resolve on the next update.
func (c *Counter) SetLine(line Line) {
	c.line = line
}

// side determines which named side of the line a point is on. Points whose
// perpendicular offset is within the hysteresis band are ambiguous.
func (c *Counter) side(p geom.Point) Side {
	lineVec := c.line.End.Sub(c.line.Start)
	cross := p.Sub(c.line.Start).Cross(lineVec)

	if math.Abs(cross) < c.line.HysteresisPx*math.Hypot(lineVec.X, lineVec.Y) {
		return SideAmbiguous
	}

	if c.line.Direction == NearToFar {
		if cross > 0 {
			return SideFar
		}
		return SideNear
	}
	if cross > 0 {
		return SideNear
	}
	return SideFar
}

// distToLine is the perpendicular distance from p to the infinite line.
func (c *Counter) distToLine(p geom.Point) float64 {
	lineVec := c.line.End.Sub(c.line.Start)
	length := math.Hypot(lineVec.X, lineVec.Y)
	if length < 1e-10 {
		return p.Dist(c.line.Start)
	}
	return math.Abs(p.Sub(c.line.Start).Cross(lineVec)) / length
}

// crossingDirection maps a side transition to "in"/"out" per the configured
// direction, or "" when the transition is not a countable crossing.
func (c *Counter) crossingDirection(prev, curr Side) string {
	if prev == SideAmbiguous || curr == SideAmbiguous || prev == curr {
		return ""
	}
	in := prev == SideNear && curr == SideFar
	if c.line.Direction == FarToNear {
		in = prev == SideFar && curr == SideNear
	}
	if in {
		return "in"
	}
	return "out"
}

// Update processes one frame of tracked detections and returns the crossing
// events emitted this frame.
func (c *Counter) Update(tracked []track.TrackedDetection, ts time.Time) []CrossingEvent {
	current := make(map[int64]track.TrackedDetection, len(tracked))
	for _, td := range tracked {
		current[td.TrackID] = td
		st, ok := c.states[td.TrackID]
		if !ok {
			st = &trackState{}
			c.states[td.TrackID] = st
		}
		st.visibleFrames++
	}

	var events []CrossingEvent

	// Fixed iteration order so within-frame events come out deterministic.
	ids := make([]int64, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		st := c.states[id]
		td, present := current[id]
		if !present {
			// Gone this frame: drop state once the visibility streak
			// was already broken, otherwise break it now.
			if st.visibleFrames == 0 {
				delete(c.states, id)
			} else {
				st.visibleFrames = 0
			}
			continue
		}

		curr := td.Centroid()

		if st.lastCentroid != nil {
			prevSide := c.side(*st.lastCentroid)
			currSide := c.side(curr)
			dir := c.crossingDirection(prevSide, currSide)

			if dir != "" && !st.crossed &&
				geom.SegmentsIntersect(*st.lastCentroid, curr, c.line.Start, c.line.End) {
				if st.visibleFrames >= c.line.MinVisibleFrames {
					events = append(events, CrossingEvent{
						ID:        uuid.NewString(),
						Timestamp: ts,
						Direction: dir,
						TrackID:   id,
						BBox:      td.Detection,
						Conf:      td.Conf,
					})
					if dir == "in" {
						c.inCount++
					} else {
						c.outCount++
					}
					st.crossed = true
				}
			}
		}

		st.lastCentroid = &curr
		st.lastSide = c.side(curr)

		// Debounce release: only once the track has moved clearly away
		// from the line can it be counted again.
		if st.lastSide != SideAmbiguous && c.distToLine(curr) > 2*c.line.HysteresisPx {
			st.crossed = false
		}
	}

	return events
}

// Totals returns the running in/out/net counts.
func (c *Counter) Totals() Totals {
	return Totals{
		In:  c.inCount,
		Out: c.outCount,
		Net: c.inCount - c.outCount,
	}
}

// Reset zeroes totals and all per-track state. Used by tests and tuning
// runs, not in the live pipeline.
func (c *Counter) Reset() {
	c.inCount = 0
	c.outCount = 0
	c.states = make(map[int64]*trackState)
}
