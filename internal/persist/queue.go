// Package persist moves finalized tracked events from the frame loop to
// durable storage without blocking the loop on storage latency.
package persist

import (
	"sync"

	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// Queue is an unbounded FIFO of finalized events. Any goroutine may
// Enqueue; a single Committer consumes from the head with peek-then-ack so
// a failed commit never loses a batch.
type Queue struct {
	mu    sync.Mutex
	items []events.TrackedEvent
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends events to the tail. It never blocks on the consumer.
func (q *Queue) Enqueue(evs ...events.TrackedEvent) {
	if len(evs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, evs...)
	q.mu.Unlock()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of every queued event in FIFO order.
func (q *Queue) Snapshot() []events.TrackedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]events.TrackedEvent(nil), q.items...)
}

// peek copies up to n events from the head without removing them.
func (q *Queue) peek(n int) []events.TrackedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	return append([]events.TrackedEvent(nil), q.items[:n]...)
}

// ack drops n events from the head after they were committed.
func (q *Queue) ack(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	// Zero the acked slots so the backing array does not pin them.
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
}

var _ events.Enqueuer = (*Queue)(nil)
