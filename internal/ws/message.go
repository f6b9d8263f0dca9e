package ws

import (
	"time"

	"linetally/internal/count"
	"linetally/internal/drift"
)

// StatsMessage is the periodic counter snapshot broadcast.
type StatsMessage struct {
	Type          string       `json:"type"` // "stats"
	Timestamp     time.Time    `json:"timestamp"`
	Totals        count.Totals `json:"totals"`
	Drift         drift.Status `json:"drift"`
	ActiveTracks  int          `json:"active_tracks"`
	FramesSeen    int64        `json:"frames_seen"`
	DroppedFrames int64        `json:"dropped_frames"`
	FPS           float64      `json:"fps"`
}

// NewStatsMessage creates a stats message stamped with the current time.
func NewStatsMessage() *StatsMessage {
	return &StatsMessage{
		Type:      "stats",
		Timestamp: time.Now(),
	}
}

// EventMessage is a single crossing event broadcast.
type EventMessage struct {
	Type   string              `json:"type"` // "event"
	Event  count.CrossingEvent `json:"event"`
	Totals count.Totals        `json:"totals"`
}

// NewEventMessage wraps a crossing event with the totals after it.
func NewEventMessage(ev count.CrossingEvent, totals count.Totals) *EventMessage {
	return &EventMessage{
		Type:   "event",
		Event:  ev,
		Totals: totals,
	}
}
