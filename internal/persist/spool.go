package persist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/fsutil"
)

// Spool keeps events that could not be committed before shutdown in a
// JSON-lines file so the next run can replay them. Sinks are idempotent on
// event id, so replaying an event that did reach the sink is harmless.
type Spool struct {
	Path string
	FS   fsutil.FileSystem
}

// NewSpool returns a Spool writing to path on the OS filesystem.
func NewSpool(path string) *Spool {
	return &Spool{Path: path, FS: fsutil.OSFileSystem{}}
}

// Write appends evs to the spool. The file is rewritten through a temporary
// file and a rename so a crash mid-write leaves the previous contents.
func (s *Spool) Write(evs []events.TrackedEvent) error {
	if len(evs) == 0 {
		return nil
	}
	existing, err := s.Read()
	if err != nil {
		return err
	}
	return s.replace(append(existing, evs...))
}

// replace rewrites the spool to hold exactly evs, removing the file when evs
// is empty.
func (s *Spool) replace(evs []events.TrackedEvent) error {
	if len(evs) == 0 {
		if err := s.FS.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove spool: %w", err)
		}
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
		}
	}

	if dir := filepath.Dir(s.Path); dir != "." {
		if err := s.FS.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := s.FS.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write spool: %w", err)
	}
	if err := s.FS.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to replace spool: %w", err)
	}
	return nil
}

// Read returns every spooled event in the order written. A missing spool
// file yields no events.
func (s *Spool) Read() ([]events.TrackedEvent, error) {
	data, err := s.FS.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spool: %w", err)
	}

	var out []events.TrackedEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var ev events.TrackedEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("spool %s line %d: %w", s.Path, line, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan spool: %w", err)
	}
	return out, nil
}

// Flush moves everything still queued in q to the spool. Events are removed
// from q only once the spool was written. No committer may be running on q.
func (s *Spool) Flush(q *Queue) (int, error) {
	pending := q.Snapshot()
	if len(pending) == 0 {
		return 0, nil
	}
	if err := s.Write(pending); err != nil {
		return 0, err
	}
	q.ack(len(pending))
	return len(pending), nil
}

// Replay commits the spooled events through a committer built from cfg,
// returning once cfg.Queue is empty. The spool file stays on disk until its
// events are committed: after each committed batch it is rewritten to the
// uncommitted remainder. If ctx is cancelled first, the spool is left holding
// what is still queued. It returns the number of events read from the spool.
func (s *Spool) Replay(ctx context.Context, cfg CommitterConfig) (int, error) {
	evs, err := s.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to recover spool: %w", err)
	}
	cfg.Queue.Enqueue(evs...)
	if cfg.Queue.Len() == 0 {
		return 0, nil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	q, sink := cfg.Queue, cfg.Sink
	cfg.Sink = SinkFunc(func(ctx context.Context, batch []events.TrackedEvent) error {
		if err := sink.Commit(ctx, batch); err != nil {
			return err
		}
		// The batch is still at the head of q until the committer acks it.
		if err := s.replace(q.Snapshot()[len(batch):]); err != nil {
			logger.Printf("Spool: failed to trim after commit, committed events will replay again: %v", err)
		}
		return nil
	})

	c := NewCommitter(cfg)
	drained, drain := context.WithCancel(context.WithoutCancel(ctx))
	drain()
	done := make(chan error, 1)
	go func() { done <- c.Run(drained) }()

	select {
	case err := <-done:
		if err != nil {
			return len(evs), err
		}
		if err := s.replace(nil); err != nil {
			return len(evs), err
		}
		return len(evs), nil
	case <-ctx.Done():
	}
	c.Abort()
	<-done
	pending := q.Snapshot()
	if err := s.replace(pending); err != nil {
		return len(evs), fmt.Errorf("failed to re-spool events: %w", err)
	}
	q.ack(len(pending))
	return len(evs), ctx.Err()
}

// WriteSpool appends evs to the spool file at path.
func WriteSpool(path string, evs []events.TrackedEvent) error {
	return NewSpool(path).Write(evs)
}

// ReadSpool reads the spool file at path.
func ReadSpool(path string) ([]events.TrackedEvent, error) {
	return NewSpool(path).Read()
}
