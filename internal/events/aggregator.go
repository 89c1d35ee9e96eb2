package events

import (
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/nekzampe/surveillance-indexer/internal/monitoring"
	"github.com/nekzampe/surveillance-indexer/internal/tracking"
)

// Config configures an Aggregator.
type Config struct {
	// VideoID is stamped on every event opened by the aggregator.
	VideoID int64
	// Resolver maps detection class names to label ids.
	Resolver LabelResolver
	// Queue receives finalized events.
	Queue Enqueuer
	// NewID generates event ids. Defaults to uuid.NewString.
	NewID func() string
	// Warnf reports non-fatal problems. Defaults to monitoring.Warnf.
	Warnf func(format string, v ...interface{})
}

// Stats counts aggregator activity since construction.
type Stats struct {
	Opened           int `json:"opened"`
	Finalized        int `json:"finalized"`
	UnresolvedLabels int `json:"unresolved_labels"`
}

// Aggregator owns the open event of every live identity for one video. It
// opens an event the first time an identity is observed, extends it on each
// later observation, and finalizes it when the identity leaves the tracker's
// population.
//
// Aggregator is not safe for concurrent use; it belongs to the frame loop.
type Aggregator struct {
	cfg   Config
	open  map[int]*TrackedEvent
	stats Stats
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Warnf == nil {
		cfg.Warnf = monitoring.Warnf
	}
	return &Aggregator{
		cfg:  cfg,
		open: make(map[int]*TrackedEvent),
	}
}

// Reconcile applies one frame. observations are this frame's matched
// detections of interest; population is the tracker's live identities after
// the same frame. Events whose identity is no longer in population are
// finalized and enqueued in ascending identity order.
func (a *Aggregator) Reconcile(population map[int]tracking.Point, observations []Observation, tick int64) {
	for _, obs := range observations {
		a.observe(obs, tick)
	}

	var gone []int
	for id := range a.open {
		if _, ok := population[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return
	}
	sort.Ints(gone)

	finalized := make([]TrackedEvent, 0, len(gone))
	for _, id := range gone {
		finalized = append(finalized, *a.open[id])
		delete(a.open, id)
	}
	a.stats.Finalized += len(finalized)
	a.cfg.Queue.Enqueue(finalized...)
}

func (a *Aggregator) observe(obs Observation, tick int64) {
	det := obs.Detection
	labelID, err := a.cfg.Resolver.Resolve(det.ClassName)
	if err != nil {
		a.stats.UnresolvedLabels++
		if errors.Is(err, ErrUnknownLabel) {
			a.cfg.Warnf("dropping detection of unknown class %q for identity %d", det.ClassName, obs.IdentityID)
		} else {
			a.cfg.Warnf("failed to resolve class %q for identity %d: %v", det.ClassName, obs.IdentityID, err)
		}
		return
	}

	ev, ok := a.open[obs.IdentityID]
	if !ok {
		a.open[obs.IdentityID] = &TrackedEvent{
			EventID:          a.cfg.NewID(),
			VideoID:          a.cfg.VideoID,
			LabelID:          labelID,
			Label:            det.ClassName,
			IdentityID:       obs.IdentityID,
			StartTick:        tick,
			EndTick:          tick,
			MaxConfidence:    det.Confidence,
			ObservationCount: 1,
		}
		a.stats.Opened++
		return
	}

	if tick > ev.EndTick {
		ev.EndTick = tick
	}
	if det.Confidence > ev.MaxConfidence {
		ev.MaxConfidence = det.Confidence
	}
	ev.ObservationCount++
}

// FinalizeAll closes every open event at endTick, enqueues them in ascending
// identity order and returns how many were closed. An event's end tick never
// moves backwards, so an endTick earlier than an event's current end leaves
// that end in place.
func (a *Aggregator) FinalizeAll(endTick int64) int {
	if len(a.open) == 0 {
		return 0
	}
	ids := make([]int, 0, len(a.open))
	for id := range a.open {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	finalized := make([]TrackedEvent, 0, len(ids))
	for _, id := range ids {
		ev := *a.open[id]
		if endTick > ev.EndTick {
			ev.EndTick = endTick
		}
		finalized = append(finalized, ev)
		delete(a.open, id)
	}
	a.stats.Finalized += len(finalized)
	a.cfg.Queue.Enqueue(finalized...)
	return len(finalized)
}

// OpenCount returns the number of open events.
func (a *Aggregator) OpenCount() int {
	return len(a.open)
}

// Stats returns a copy of the aggregator counters.
func (a *Aggregator) Stats() Stats {
	return a.stats
}
