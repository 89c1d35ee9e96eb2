package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// Label is a detector class name stored for event lookup.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SeedLabels inserts any of names not already stored.
func (db *DB) SeedLabels(ctx context.Context, names []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO labels (name) VALUES (?) ON CONFLICT(name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare label insert: %w", err)
	}
	defer stmt.Close()

	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, name); err != nil {
			return fmt.Errorf("failed to insert label %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// ListLabels returns every stored label ordered by id.
func (db *DB) ListLabels(ctx context.Context) ([]Label, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM labels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	labels := []Label{}
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// LabelCache resolves class names to label ids from an in-memory copy of
// the labels table.
type LabelCache struct {
	mu     sync.RWMutex
	byName map[string]int64
}

// NewLabelCache loads every stored label.
func NewLabelCache(ctx context.Context, db *DB) (*LabelCache, error) {
	c := &LabelCache{}
	if err := c.Reload(ctx, db); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the cache contents with the labels currently stored.
func (c *LabelCache) Reload(ctx context.Context, db *DB) error {
	labels, err := db.ListLabels(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(labels))
	for _, l := range labels {
		byName[l.Name] = l.ID
	}
	c.mu.Lock()
	c.byName = byName
	c.mu.Unlock()
	return nil
}

// Resolve implements events.LabelResolver.
func (c *LabelCache) Resolve(className string) (int64, error) {
	c.mu.RLock()
	id, ok := c.byName[className]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%q: %w", className, events.ErrUnknownLabel)
	}
	return id, nil
}

// Len returns the number of cached labels.
func (c *LabelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}

var _ events.LabelResolver = (*LabelCache)(nil)
