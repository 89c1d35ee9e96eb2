package persist

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/config"
	"github.com/nekzampe/surveillance-indexer/internal/timeutil"
)

// ErrAborted is returned by Committer.Run after Abort.
var ErrAborted = errors.New("committer aborted")

// CommitterConfig contains configuration for Committer.
type CommitterConfig struct {
	// Queue is the source of finalized events.
	Queue *Queue
	// Sink receives each batch.
	Sink Sink
	// BatchSize is the most events committed in one call (default 50).
	BatchSize int
	// PollInterval is the sleep between checks of an empty queue
	// (default 100ms).
	PollInterval time.Duration
	// RetryBaseBackoff is the first delay after a failed commit; it doubles
	// per consecutive failure (default 100ms).
	RetryBaseBackoff time.Duration
	// RetryMaxBackoff caps the retry delay (default 5s).
	RetryMaxBackoff time.Duration
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// CommitterConfigFromIndexer fills the timing fields from the indexer
// configuration.
func CommitterConfigFromIndexer(cfg *config.IndexerConfig, q *Queue, sink Sink) CommitterConfig {
	return CommitterConfig{
		Queue:            q,
		Sink:             sink,
		BatchSize:        cfg.GetBatchSize(),
		PollInterval:     cfg.GetPollInterval(),
		RetryBaseBackoff: cfg.GetRetryBaseBackoff(),
		RetryMaxBackoff:  cfg.GetRetryMaxBackoff(),
	}
}

// CommitterStats counts commit activity.
type CommitterStats struct {
	BatchesCommitted int `json:"batches_committed"`
	EventsCommitted  int `json:"events_committed"`
	CommitFailures   int `json:"commit_failures"`
}

// Committer drains a Queue into a Sink from a single background goroutine.
// A batch is removed from the queue only after the sink accepted it; a
// failed batch stays at the head and is retried with exponential backoff.
type Committer struct {
	queue        *Queue
	sink         Sink
	batchSize    int
	pollInterval time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	clock        timeutil.Clock
	logger       *log.Logger

	mu      sync.Mutex
	running bool
	stats   CommitterStats

	abortOnce    sync.Once
	abortCh      chan struct{}
	cancelCommit context.CancelFunc
}

// NewCommitter creates a new Committer.
func NewCommitter(cfg CommitterConfig) *Committer {
	c := &Committer{
		queue:        cfg.Queue,
		sink:         cfg.Sink,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		baseBackoff:  cfg.RetryBaseBackoff,
		maxBackoff:   cfg.RetryMaxBackoff,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		abortCh:      make(chan struct{}),
	}
	if c.batchSize <= 0 {
		c.batchSize = 50
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 100 * time.Millisecond
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = 100 * time.Millisecond
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 5 * time.Second
	}
	if c.maxBackoff < c.baseBackoff {
		c.maxBackoff = c.baseBackoff
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// Run commits batches until ctx is cancelled and the queue is empty, or
// until Abort is called. Cancelling ctx is the drain signal: Run keeps
// committing (and retrying) whatever is queued, and commits in flight run
// on a context that ignores the cancellation. Returns nil after a full
// drain and ErrAborted after Abort.
func (c *Committer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("committer already running")
	}
	c.running = true
	commitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelCommit = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	failures := 0
	for {
		if c.isAborted() {
			c.logger.Printf("Committer: aborted with %d events queued", c.queue.Len())
			return ErrAborted
		}

		batch := c.queue.peek(c.batchSize)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			c.sleep(ctx.Done(), c.pollInterval)
			continue
		}

		if err := c.sink.Commit(commitCtx, batch); err != nil {
			failures++
			c.mu.Lock()
			c.stats.CommitFailures++
			c.mu.Unlock()

			delay := c.backoff(failures)
			c.logger.Printf("Committer: commit of %d events failed (attempt %d), retrying in %v: %v",
				len(batch), failures, delay, err)
			c.sleep(nil, delay)
			continue
		}

		failures = 0
		c.queue.ack(len(batch))
		c.mu.Lock()
		c.stats.BatchesCommitted++
		c.stats.EventsCommitted += len(batch)
		c.mu.Unlock()
	}
}

// Abort stops Run at its next check: sleeps are interrupted and the context
// of an in-flight commit is cancelled. Uncommitted events stay in the queue.
// It is safe to call multiple times.
func (c *Committer) Abort() {
	c.abortOnce.Do(func() {
		close(c.abortCh)
		c.mu.Lock()
		if c.cancelCommit != nil {
			c.cancelCommit()
		}
		c.mu.Unlock()
	})
}

// Stats returns a copy of the commit counters.
func (c *Committer) Stats() CommitterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Committer) isAborted() bool {
	select {
	case <-c.abortCh:
		return true
	default:
		return false
	}
}

// sleep waits for d, returning early on abort or when wake is closed.
func (c *Committer) sleep(wake <-chan struct{}, d time.Duration) {
	select {
	case <-c.clock.After(d):
	case <-wake:
	case <-c.abortCh:
	}
}

// backoff returns base·2^(failures-1), capped at maxBackoff.
func (c *Committer) backoff(failures int) time.Duration {
	d := c.baseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return d
}
