package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// EventStore commits tracked events to the tracked_events table. It
// satisfies persist.Sink.
type EventStore struct {
	db *DB
}

// NewEventStore returns an EventStore backed by db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Commit inserts batch in one transaction. Events whose event_id is already
// stored are skipped, so a retried batch is harmless.
func (s *EventStore) Commit(ctx context.Context, batch []events.TrackedEvent) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_events (
			event_id, video_id, label_id, identity_id, start_tick, end_tick,
			max_confidence, observation_count, committed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, ev := range batch {
		if _, err := stmt.ExecContext(ctx,
			ev.EventID, ev.VideoID, ev.LabelID, ev.IdentityID, ev.StartTick, ev.EndTick,
			float64(ev.MaxConfidence), ev.ObservationCount, now,
		); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %d events: %w", len(batch), err)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	VideoID int64
	Label   string
	Limit   int
}

// ListEvents returns stored events matching f, ordered by video and start
// tick.
func (s *EventStore) ListEvents(ctx context.Context, f EventFilter) ([]events.TrackedEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.VideoID != 0 {
		where = append(where, "e.video_id = ?")
		args = append(args, f.VideoID)
	}
	if f.Label != "" {
		where = append(where, "l.name = ?")
		args = append(args, f.Label)
	}

	query := `
		SELECT e.event_id, e.video_id, e.label_id, l.name, e.identity_id,
		       e.start_tick, e.end_tick, e.max_confidence, e.observation_count
		FROM tracked_events e
		JOIN labels l ON l.id = e.label_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.video_id, e.start_tick, e.identity_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := []events.TrackedEvent{}
	for rows.Next() {
		var ev events.TrackedEvent
		var conf float64
		if err := rows.Scan(&ev.EventID, &ev.VideoID, &ev.LabelID, &ev.Label, &ev.IdentityID,
			&ev.StartTick, &ev.EndTick, &conf, &ev.ObservationCount); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.MaxConfidence = float32(conf)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LabelCount is the number of stored events for one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountByLabel returns per-label event counts for videoID, or across all
// videos when videoID is zero.
func (s *EventStore) CountByLabel(ctx context.Context, videoID int64) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.name, COUNT(e.id)
		FROM labels l
		JOIN tracked_events e ON e.label_id = l.id
		WHERE ? = 0 OR e.video_id = ?
		GROUP BY l.name
		ORDER BY COUNT(e.id) DESC, l.name`, videoID, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	out := []LabelCount{}
	for rows.Next() {
		var c LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
