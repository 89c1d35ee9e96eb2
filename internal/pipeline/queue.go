package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/timeutil"
)

// VideoStatus is the processing state of a queued video.
type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

// VideoProcessor indexes one video. *Orchestrator implements it.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, path string) (Result, error)
}

// VideoItem is one entry of a VideoQueue.
type VideoItem struct {
	Path       string      `json:"path"`
	Status     VideoStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	Result     *Result     `json:"result,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// VideoQueue processes videos one at a time in the order they were added.
// A failed video does not stop the queue.
type VideoQueue struct {
	proc  VideoProcessor
	clock timeutil.Clock

	mu    sync.Mutex
	items []VideoItem
}

// NewVideoQueue creates a queue holding paths as pending items.
func NewVideoQueue(proc VideoProcessor, paths ...string) *VideoQueue {
	q := &VideoQueue{proc: proc, clock: timeutil.RealClock{}}
	q.Add(paths...)
	return q
}

// Add appends pending items.
func (q *VideoQueue) Add(paths ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range paths {
		q.items = append(q.items, VideoItem{Path: p, Status: StatusPending})
	}
}

// Items returns a copy of every item and its status.
func (q *VideoQueue) Items() []VideoItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]VideoItem(nil), q.items...)
}

// Run processes pending items until none are left or ctx is cancelled. It
// returns the number of failed items, and ctx.Err() if it was cancelled.
func (q *VideoQueue) Run(ctx context.Context) (int, error) {
	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		i, ok := q.next()
		if !ok {
			return failed, nil
		}

		res, err := q.proc.ProcessVideo(ctx, q.path(i))
		q.finish(i, res, err)
		if err != nil {
			failed++
			opsf("Video %s failed: %v", q.path(i), err)
		}
	}
}

// next marks the first pending item as processing.
func (q *VideoQueue) next() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].Status == StatusPending {
			now := q.clock.Now()
			q.items[i].Status = StatusProcessing
			q.items[i].StartedAt = &now
			return i, true
		}
	}
	return 0, false
}

func (q *VideoQueue) path(i int) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items[i].Path
}

func (q *VideoQueue) finish(i int, res Result, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	item := &q.items[i]
	item.FinishedAt = &now
	item.Result = &res
	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		return
	}
	item.Status = StatusCompleted
}
