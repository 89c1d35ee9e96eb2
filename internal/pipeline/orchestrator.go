package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/persist"
	"github.com/nekzampe/surveillance-indexer/internal/timeutil"
	"github.com/nekzampe/surveillance-indexer/internal/tracking"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

// ErrStreamOpen is returned by ProcessVideo when the video cannot be opened.
var ErrStreamOpen = errors.New("failed to open video stream")

// DefaultGracePeriod bounds how long the committer may keep draining after
// the frame loop ended.
const DefaultGracePeriod = 500 * time.Millisecond

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Opener   FrameSourceOpener
	Detector Detector
	Registry VideoRegistry
	Resolver events.LabelResolver
	Sink     persist.Sink

	// Classes limits tracking to these detector classes. Empty tracks all.
	Classes ClassFilter
	Tracker tracking.Config
	// Committer supplies the batching and retry settings; its Queue and
	// Sink fields are ignored.
	Committer persist.CommitterConfig

	// GracePeriod is the time allowed for the final drain (default 500ms).
	GracePeriod time.Duration
	// Spool, when set, receives events still queued after the grace period.
	Spool *persist.Spool

	// Ticks builds the tick source for a video. Defaults to
	// video.FrameRateTicks at the stream frame rate.
	Ticks func(meta video.Metadata) video.TickSource
	// OnFrame is optional.
	OnFrame FrameProcessedFunc
	// NewID generates event ids. Defaults to uuid.NewString.
	NewID func() string
	// Clock times the grace period; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
}

// Result summarises one ProcessVideo call.
type Result struct {
	VideoID       int64                  `json:"video_id"`
	Frames        int                    `json:"frames"`
	Events        events.Stats           `json:"events"`
	Commits       persist.CommitterStats `json:"commits"`
	DrainAborted  bool                   `json:"drain_aborted"`
	SpooledEvents int                    `json:"spooled_events"`
}

// Orchestrator runs videos through detection, tracking and aggregation.
// Every video gets its own tracker, aggregator and committer; the event
// queue is shared so events spooled or left from an earlier video are
// committed by the next drain.
type Orchestrator struct {
	cfg   Config
	queue *persist.Queue
	clock timeutil.Clock
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Opener == nil:
		return nil, errors.New("pipeline: opener is required")
	case cfg.Detector == nil:
		return nil, errors.New("pipeline: detector is required")
	case cfg.Registry == nil:
		return nil, errors.New("pipeline: video registry is required")
	case cfg.Resolver == nil:
		return nil, errors.New("pipeline: label resolver is required")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: sink is required")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Ticks == nil {
		cfg.Ticks = func(meta video.Metadata) video.TickSource {
			return video.FrameRateTicks{FPS: meta.FrameRate}
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{cfg: cfg, queue: persist.NewQueue(), clock: clock}, nil
}

// Queue returns the shared event queue.
func (o *Orchestrator) Queue() *persist.Queue {
	return o.queue
}

// ProcessVideo indexes the video at path. The frame loop ends at the end of
// the stream, on a detector or decode error, or when ctx is cancelled; in
// every case the open events are finalized and the queue is drained for up
// to the grace period before returning.
func (o *Orchestrator) ProcessVideo(ctx context.Context, path string) (Result, error) {
	src, err := o.cfg.Opener.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w %s: %v", ErrStreamOpen, path, err)
	}
	defer src.Close()

	meta := src.Metadata()
	key := path
	if meta.FullPath != "" {
		key = meta.FullPath
	}
	videoID, err := o.cfg.Registry.GetOrCreateVideo(ctx, key, meta)
	if err != nil {
		return Result{}, fmt.Errorf("failed to register video %s: %w", path, err)
	}
	diagf("Processing %s as video %d (%dx%d @ %.2f fps)", path, videoID, meta.Width, meta.Height, meta.FrameRate)

	ticks := o.cfg.Ticks(meta)
	tracker := tracking.NewIdentityTracker(o.cfg.Tracker)
	agg := events.NewAggregator(events.Config{
		VideoID:  videoID,
		Resolver: o.cfg.Resolver,
		Queue:    o.queue,
		NewID:    o.cfg.NewID,
		Warnf:    opsf,
	})

	committer, done, drain := o.startCommitter(ctx)

	res := Result{VideoID: videoID}
	var lastTick int64
	loopErr := o.runFrames(ctx, src, ticks, tracker, agg, &res, &lastTick)

	closed := agg.FinalizeAll(lastTick)
	diagf("Video %d: %d frames, %d events finalized at shutdown", videoID, res.Frames, closed)
	res.Events = agg.Stats()

	drain()
	aborted, spooled, drainErr := o.awaitDrain(committer, done)
	res.Commits = committer.Stats()
	res.DrainAborted = aborted
	res.SpooledEvents = spooled

	if loopErr != nil {
		return res, loopErr
	}
	return res, drainErr
}

func (o *Orchestrator) runFrames(ctx context.Context, src FrameSource, ticks video.TickSource,
	tracker *tracking.IdentityTracker, agg *events.Aggregator, res *Result, lastTick *int64) error {
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("processing interrupted after %d frames: %w", res.Frames, err)
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode frame %d: %w", index, err)
		}

		dets, err := o.cfg.Detector.Detect(frame)
		if err != nil {
			frame.Close()
			opsf("Detector failed on frame %d: %v", index, err)
			return fmt.Errorf("detector failed on frame %d: %w", index, err)
		}
		dets = o.cfg.Classes.Filter(dets)

		tick := ticks.Tick(index)
		population := tracker.Update(dets)
		assoc := tracker.Associations()
		observations := make([]events.Observation, len(dets))
		for i, d := range dets {
			observations[i] = events.Observation{IdentityID: assoc[i], Detection: d}
		}
		agg.Reconcile(population, observations, tick)

		*lastTick = tick
		res.Frames++
		tracef("frame %d tick=%d detections=%d identities=%d open=%d",
			index, tick, len(dets), len(population), agg.OpenCount())

		if o.cfg.OnFrame != nil {
			o.cfg.OnFrame(frame, dets, tracker.Identities())
		}
		frame.Close()
	}
}

// startCommitter launches a committer on the shared queue. Calling the
// returned drain func signals it to finish once the queue is empty.
func (o *Orchestrator) startCommitter(ctx context.Context) (*persist.Committer, <-chan error, context.CancelFunc) {
	ccfg := o.cfg.Committer
	ccfg.Queue = o.queue
	ccfg.Sink = o.cfg.Sink
	committer := persist.NewCommitter(ccfg)

	drainCtx, drain := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		done <- committer.Run(drainCtx)
	}()
	return committer, done, drain
}

// awaitDrain waits up to the grace period for the committer. On expiry the
// committer is aborted and whatever is still queued goes to the spool.
func (o *Orchestrator) awaitDrain(committer *persist.Committer, done <-chan error) (aborted bool, spooled int, err error) {
	select {
	case err := <-done:
		return false, 0, err
	case <-o.clock.After(o.cfg.GracePeriod):
	}

	committer.Abort()
	<-done
	pending := o.queue.Len()
	opsf("Grace period %v expired with %d events uncommitted", o.cfg.GracePeriod, pending)
	if o.cfg.Spool == nil || pending == 0 {
		return true, 0, nil
	}
	n, err := o.cfg.Spool.Flush(o.queue)
	if err != nil {
		opsf("Failed to spool %d events: %v", pending, err)
		return true, 0, fmt.Errorf("failed to spool uncommitted events: %w", err)
	}
	opsf("Spooled %d events to %s", n, o.cfg.Spool.Path)
	return true, n, nil
}

// Replay commits the events spooled by an earlier run, waiting until they
// are all committed or ctx is cancelled.
func (o *Orchestrator) Replay(ctx context.Context) (int, error) {
	if o.cfg.Spool == nil {
		return 0, nil
	}
	ccfg := o.cfg.Committer
	ccfg.Queue = o.queue
	ccfg.Sink = o.cfg.Sink
	n, err := o.cfg.Spool.Replay(ctx, ccfg)
	if n > 0 {
		diagf("Replayed %d spooled events", n)
	}
	return n, err
}
