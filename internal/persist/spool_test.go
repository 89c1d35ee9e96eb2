package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/fsutil"
)

func memSpool() (*Spool, *fsutil.MemoryFileSystem) {
	mfs := fsutil.NewMemoryFileSystem()
	return &Spool{Path: "/data/pending_events.jsonl", FS: mfs}, mfs
}

func TestSpool_ReadMissing(t *testing.T) {
	t.Parallel()
	s, _ := memSpool()
	evs, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestSpool_WriteAppends(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	all := makeEvents(5)

	require.NoError(t, s.Write(all[:2]))
	require.NoError(t, s.Write(all[2:]))
	assert.False(t, mfs.Exists(s.Path+".tmp"))

	got, err := s.Read()
	require.NoError(t, err)
	if diff := cmp.Diff(all, got); diff != "" {
		t.Errorf("spool mismatch (-want +got):\n%s", diff)
	}
}

func TestSpool_WriteFailureKeepsPreviousContents(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	require.NoError(t, s.Write(makeEvents(1)))

	mfs.FailWrites = assert.AnError
	assert.Error(t, s.Write(makeEvents(3)))

	mfs.FailWrites = nil
	got, err := s.Read()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSpool_CorruptLine(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	require.NoError(t, mfs.WriteFile(s.Path, []byte("{\"event_id\":\"a\"}\nnot json\n"), 0o644))

	_, err := s.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSpool_FlushMovesQueueToSpool(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	q := NewQueue()
	q.Enqueue(makeEvents(3)...)

	mfs.FailWrites = assert.AnError
	_, err := s.Flush(q)
	require.Error(t, err)
	assert.Equal(t, 3, q.Len())

	mfs.FailWrites = nil
	n, err := s.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, q.Len())

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-000", "ev-001", "ev-002"}, eventIDs(got))

	n, err = s.Flush(q)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSpool_OnDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "pending.jsonl")

	require.NoError(t, WriteSpool(path, makeEvents(2)))
	got, err := ReadSpool(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-000", "ev-001"}, eventIDs(got))

	require.NoError(t, WriteSpool(path, makeEvents(3)[2:]))
	got, err = ReadSpool(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-000", "ev-001", "ev-002"}, eventIDs(got))
}

func TestSpool_Replay(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	require.NoError(t, s.Write(makeEvents(3)))

	sink := &recordingSink{}
	n, err := s.Replay(context.Background(), CommitterConfig{
		Queue:     NewQueue(),
		Sink:      sink,
		BatchSize: 2,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]string{{"ev-000", "ev-001"}, {"ev-002"}}, sink.committed())
	assert.False(t, mfs.Exists(s.Path))
}

func TestSpool_ReplayKeepsSpoolUntilCommitted(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	require.NoError(t, s.Write(makeEvents(3)))

	var onDisk [][]string
	sink := SinkFunc(func(_ context.Context, _ []events.TrackedEvent) error {
		left, err := s.Read()
		require.NoError(t, err)
		onDisk = append(onDisk, eventIDs(left))
		return nil
	})
	n, err := s.Replay(context.Background(), CommitterConfig{
		Queue:     NewQueue(),
		Sink:      sink,
		BatchSize: 2,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]string{{"ev-000", "ev-001", "ev-002"}, {"ev-002"}}, onDisk)
	assert.False(t, mfs.Exists(s.Path))
}

func TestSpool_ReplayFailingSinkKeepsSpool(t *testing.T) {
	t.Parallel()
	s, mfs := memSpool()
	require.NoError(t, s.Write(makeEvents(2)))

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	sink := SinkFunc(func(context.Context, []events.TrackedEvent) error {
		assert.True(t, mfs.Exists(s.Path))
		attempts++
		if attempts == 2 {
			cancel()
		}
		return assert.AnError
	})
	_, err := s.Replay(ctx, CommitterConfig{
		Queue:            NewQueue(),
		Sink:             sink,
		RetryBaseBackoff: time.Millisecond,
		Logger:           quietLogger(),
	})
	assert.ErrorIs(t, err, context.Canceled)

	left, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-000", "ev-001"}, eventIDs(left))
}

func TestSpool_ReplayCancelledRespools(t *testing.T) {
	t.Parallel()
	s, _ := memSpool()
	require.NoError(t, s.Write(makeEvents(2)))

	ctx, cancel := context.WithCancel(context.Background())
	sink := SinkFunc(func(ctx context.Context, _ []events.TrackedEvent) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	q := NewQueue()
	n, err := s.Replay(ctx, CommitterConfig{Queue: q, Sink: sink, Logger: quietLogger()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, n)
	assert.Zero(t, q.Len())

	left, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-000", "ev-001"}, eventIDs(left))
}

func TestSpool_ReplayEmpty(t *testing.T) {
	t.Parallel()
	s, _ := memSpool()
	n, err := s.Replay(context.Background(), CommitterConfig{Queue: NewQueue(), Sink: &recordingSink{}})
	require.NoError(t, err)
	assert.Zero(t, n)
}
