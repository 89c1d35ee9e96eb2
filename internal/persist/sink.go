package persist

import (
	"context"
	"fmt"

	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// Sink stores a batch of events as one unit. Commit may be called again with
// the same batch after a failure, so implementations must be idempotent on
// TrackedEvent.EventID.
type Sink interface {
	Commit(ctx context.Context, batch []events.TrackedEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []events.TrackedEvent) error

// Commit implements Sink.
func (f SinkFunc) Commit(ctx context.Context, batch []events.TrackedEvent) error {
	return f(ctx, batch)
}

// MultiSink commits each batch to every sink in order. A failure in any
// sink fails the batch, which the committer then retries against all sinks;
// idempotent sinks absorb the repeat.
type MultiSink []Sink

// Commit implements Sink.
func (m MultiSink) Commit(ctx context.Context, batch []events.TrackedEvent) error {
	for i, s := range m {
		if err := s.Commit(ctx, batch); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
