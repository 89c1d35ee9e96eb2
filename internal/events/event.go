// Package events turns per-frame identity observations into bounded tracked
// events: intervals during which one identity was continuously present.
package events

import (
	"errors"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/tracking"
)

// ErrUnknownLabel is returned by a LabelResolver for a class name it does
// not know.
var ErrUnknownLabel = errors.New("unknown label")

// TrackedEvent is one identity's continuous presence in a video. Ticks are
// nanoseconds from the start of the video. Once finalized an event is only
// ever passed by value.
type TrackedEvent struct {
	EventID          string  `json:"event_id"`
	VideoID          int64   `json:"video_id"`
	LabelID          int64   `json:"label_id"`
	Label            string  `json:"label"`
	IdentityID       int     `json:"identity_id"`
	StartTick        int64   `json:"start_tick"`
	EndTick          int64   `json:"end_tick"`
	MaxConfidence    float32 `json:"max_confidence"`
	ObservationCount int     `json:"observation_count"`
}

// Duration returns the span between the first and last matched frame.
func (e TrackedEvent) Duration() time.Duration {
	return time.Duration(e.EndTick - e.StartTick)
}

// Observation pairs a detection with the identity the tracker assigned it to
// this frame.
type Observation struct {
	IdentityID int
	Detection  tracking.Detection
}

// LabelResolver maps a detector class name to a stored label id.
type LabelResolver interface {
	Resolve(className string) (int64, error)
}

// LabelResolverFunc adapts a function to LabelResolver.
type LabelResolverFunc func(className string) (int64, error)

// Resolve implements LabelResolver.
func (f LabelResolverFunc) Resolve(className string) (int64, error) { return f(className) }

// Enqueuer accepts finalized events for persistence.
type Enqueuer interface {
	Enqueue(events ...TrackedEvent)
}
