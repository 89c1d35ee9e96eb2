package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

type eventFixture struct {
	db       *DB
	store    *EventStore
	videoID  int64
	personID int64
	carID    int64
}

func setupEventFixture(t *testing.T) eventFixture {
	t.Helper()
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.SeedLabels(ctx, []string{"person", "car"}); err != nil {
		t.Fatalf("SeedLabels failed: %v", err)
	}
	cache, err := NewLabelCache(ctx, db)
	if err != nil {
		t.Fatalf("NewLabelCache failed: %v", err)
	}
	personID, _ := cache.Resolve("person")
	carID, _ := cache.Resolve("car")

	videoID, err := db.GetOrCreateVideo(ctx, "/videos/a.mp4", video.Metadata{FileName: "a.mp4"})
	if err != nil {
		t.Fatalf("GetOrCreateVideo failed: %v", err)
	}
	return eventFixture{db: db, store: NewEventStore(db), videoID: videoID, personID: personID, carID: carID}
}

func (f eventFixture) event(n int, labelID int64, label string) events.TrackedEvent {
	return events.TrackedEvent{
		EventID:          fmt.Sprintf("00000000-0000-0000-0000-%012d", n),
		VideoID:          f.videoID,
		LabelID:          labelID,
		Label:            label,
		IdentityID:       n,
		StartTick:        int64(n) * 1000,
		EndTick:          int64(n)*1000 + 500,
		MaxConfidence:    0.75,
		ObservationCount: 3,
	}
}

func countEvents(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tracked_events`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestEventStore_CommitAndList(t *testing.T) {
	f := setupEventFixture(t)
	ctx := context.Background()

	batch := []events.TrackedEvent{
		f.event(1, f.personID, "person"),
		f.event(2, f.carID, "car"),
		f.event(3, f.personID, "person"),
	}
	if err := f.store.Commit(ctx, batch); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got, err := f.store.ListEvents(ctx, EventFilter{VideoID: f.videoID})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if diff := cmp.Diff(batch, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	people, err := f.store.ListEvents(ctx, EventFilter{Label: "person", Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(people) != 1 || people[0].IdentityID != 1 {
		t.Errorf("unexpected filtered events %+v", people)
	}

	counts, err := f.store.CountByLabel(ctx, 0)
	if err != nil {
		t.Fatalf("CountByLabel failed: %v", err)
	}
	want := []LabelCount{{Label: "person", Count: 2}, {Label: "car", Count: 1}}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestEventStore_CommitIsIdempotent(t *testing.T) {
	f := setupEventFixture(t)
	ctx := context.Background()
	batch := []events.TrackedEvent{f.event(1, f.personID, "person"), f.event(2, f.carID, "car")}

	if err := f.store.Commit(ctx, batch); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := f.store.Commit(ctx, append(batch, f.event(3, f.carID, "car"))); err != nil {
		t.Fatalf("retried Commit failed: %v", err)
	}
	if n := countEvents(t, f.db); n != 3 {
		t.Errorf("expected 3 stored events, got %d", n)
	}
}

func TestEventStore_CommitIsAtomic(t *testing.T) {
	f := setupEventFixture(t)
	ctx := context.Background()

	bad := f.event(2, 9999, "ghost") // violates the labels foreign key
	err := f.store.Commit(ctx, []events.TrackedEvent{f.event(1, f.personID, "person"), bad})
	if err == nil {
		t.Fatal("expected commit with unknown label id to fail")
	}
	if n := countEvents(t, f.db); n != 0 {
		t.Errorf("expected failed batch to leave no rows, got %d", n)
	}
}

func TestEventStore_CommitEmpty(t *testing.T) {
	f := setupEventFixture(t)
	if err := f.store.Commit(context.Background(), nil); err != nil {
		t.Errorf("empty commit failed: %v", err)
	}
}
