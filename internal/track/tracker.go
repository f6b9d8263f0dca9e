// Package track implements multi-object tracking over per-frame detections.
// The association is a two-tier greedy IoU match: high-confidence detections
// extend or spawn tracks, low-confidence detections only re-acquire tracks
// that would otherwise be lost. Matching is greedy, not a globally optimal
// assignment; callers relying on tie-break order get input order.
package track

import (
	"sort"

	"linetally/internal/detect"
)

// Config holds tracker parameters.
type Config struct {
	TrackThresh float64 // Confidence splitting high from low detections
	MatchThresh float64 // Minimum IoU for an association
	MinBoxArea  float64 // Detections below this area are discarded
	LostTTL     int     // Consecutive lost frames before a track is evicted
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		TrackThresh: 0.50,
		MatchThresh: 0.80,
		MinBoxArea:  150,
		LostTTL:     30,
	}
}

// Track is one tracked object identity.
type Track struct {
	ID         int64
	BBox       detect.Detection
	Age        int // Frames seen, including re-acquisitions
	LostFrames int // Consecutive unmatched frames
}

// TrackedDetection is a detection tagged with its track identity, one per
// currently-matched track per frame.
type TrackedDetection struct {
	detect.Detection
	TrackID int64
}

// Tracker assigns and maintains object identities across frames. It is owned
// by the processing goroutine and is not safe for concurrent use.
type Tracker struct {
	config      Config
	tracks      map[int64]*Track
	nextTrackID int64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config:      config,
		tracks:      make(map[int64]*Track),
		nextTrackID: 1,
	}
}

// ActiveTracks returns the number of tracks currently maintained, lost or not.
func (t *Tracker) ActiveTracks() int {
	return len(t.tracks)
}

// Update associates this frame's detections with existing tracks and returns
// one TrackedDetection per matched track. Detections are scanned in the order
// received (the filter stage guarantees a stable order within a frame), and
// tracks in ascending id order, so ties resolve deterministically.
func (t *Tracker) Update(detections []detect.Detection) []TrackedDetection {
	var high, low []detect.Detection
	for _, d := range detections {
		if d.Area() < t.config.MinBoxArea {
			continue
		}
		if d.Conf >= t.config.TrackThresh {
			high = append(high, d)
		} else {
			low = append(low, d)
		}
	}

	ids := t.sortedTrackIDs()

	matched := make(map[int64]bool)
	usedHigh := make([]bool, len(high))
	var tracked []TrackedDetection

	// Tier 1: non-lost tracks against high-confidence detections,
	// greedy max-IoU, first found wins ties.
	for _, id := range ids {
		tr := t.tracks[id]
		if tr.LostFrames > 0 {
			continue
		}

		best := -1
		bestIoU := 0.0
		for idx, d := range high {
			if usedHigh[idx] {
				continue
			}
			iou := detect.IoU(tr.BBox, d)
			if iou > bestIoU && iou >= t.config.MatchThresh {
				bestIoU = iou
				best = idx
			}
		}
		if best < 0 {
			continue
		}

		d := high[best]
		tr.BBox = d
		tr.Age++
		tr.LostFrames = 0
		matched[id] = true
		usedHigh[best] = true
		tracked = append(tracked, TrackedDetection{Detection: d, TrackID: id})
	}

	// Unmatched high-confidence detections spawn new tracks.
	for idx, d := range high {
		if usedHigh[idx] {
			continue
		}
		id := t.nextTrackID
		t.nextTrackID++
		t.tracks[id] = &Track{ID: id, BBox: d, Age: 1}
		tracked = append(tracked, TrackedDetection{Detection: d, TrackID: id})
	}

	// Tier 2: remaining tracks against low-confidence detections. A match
	// revives the track in place; a miss ages it toward eviction.
	for _, id := range ids {
		tr, ok := t.tracks[id]
		if !ok || matched[id] {
			continue
		}

		if tr.LostFrames >= t.config.LostTTL {
			delete(t.tracks, id)
			continue
		}

		best := -1
		bestIoU := 0.0
		for idx, d := range low {
			iou := detect.IoU(tr.BBox, d)
			if iou > bestIoU && iou >= t.config.MatchThresh {
				bestIoU = iou
				best = idx
			}
		}
		if best < 0 {
			tr.LostFrames++
			continue
		}

		d := low[best]
		tr.BBox = d
		tr.Age++
		tr.LostFrames = 0
		tracked = append(tracked, TrackedDetection{Detection: d, TrackID: id})
	}

	return tracked
}

func (t *Tracker) sortedTrackIDs() []int64 {
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
