package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekzampe/surveillance-indexer/internal/db"
	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

type staticQueue []pipeline.VideoItem

func (q staticQueue) Items() []pipeline.VideoItem { return q }

type fixture struct {
	server  *Server
	handler http.Handler
	videoID int64
}

// setupTestServer stores one video with two person events and one car event.
func setupTestServer(t *testing.T, queue QueueStatus) fixture {
	t.Helper()
	ctx := context.Background()
	database := cloneAPITestDB(t)

	require.NoError(t, database.SeedLabels(ctx, []string{"person", "car"}))
	cache, err := db.NewLabelCache(ctx, database)
	require.NoError(t, err)
	personID, err := cache.Resolve("person")
	require.NoError(t, err)
	carID, err := cache.Resolve("car")
	require.NoError(t, err)

	videoID, err := database.GetOrCreateVideo(ctx, "/videos/lobby.mp4", video.Metadata{
		FileName: "lobby.mp4", FrameRate: 30, Width: 640, Height: 480,
	})
	require.NoError(t, err)

	evs := []events.TrackedEvent{
		{EventID: "e1", VideoID: videoID, LabelID: personID, Label: "person", IdentityID: 0, StartTick: 0, EndTick: 1e9, MaxConfidence: 0.5, ObservationCount: 30},
		{EventID: "e2", VideoID: videoID, LabelID: carID, Label: "car", IdentityID: 1, StartTick: 2e9, EndTick: 3e9, MaxConfidence: 0.75, ObservationCount: 30},
		{EventID: "e3", VideoID: videoID, LabelID: personID, Label: "person", IdentityID: 2, StartTick: 4e9, EndTick: 5e9, MaxConfidence: 0.25, ObservationCount: 30},
	}
	require.NoError(t, db.NewEventStore(database).Commit(ctx, evs))

	s := NewServer(database, queue)
	return fixture{server: s, handler: s.Router(), videoID: videoID}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func eventIDs(evs []events.TrackedEvent) []string {
	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = ev.EventID
	}
	return ids
}

func TestListVideos(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/videos")
	require.Equal(t, http.StatusOK, rec.Code)
	videos := decode[[]db.Video](t, rec)
	require.Len(t, videos, 1)
	assert.Equal(t, "lobby.mp4", videos[0].FileName)
}

func TestShowVideo(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/videos/1")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[db.Video](t, rec)
	assert.Equal(t, f.videoID, v.ID)
	assert.Equal(t, 640, v.Width)

	rec = get(t, f.handler, "/api/videos/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "999")
}

func TestListVideoEvents(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/videos/1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"e1", "e2", "e3"}, eventIDs(decode[[]events.TrackedEvent](t, rec)))

	rec = get(t, f.handler, "/api/videos/1/events?label=person&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"e1"}, eventIDs(decode[[]events.TrackedEvent](t, rec)))

	rec = get(t, f.handler, "/api/videos/2/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	tests := []struct {
		query  string
		status int
		want   []string
	}{
		{"", http.StatusOK, []string{"e1", "e2", "e3"}},
		{"?label=car", http.StatusOK, []string{"e2"}},
		{"?video=1&label=person", http.StatusOK, []string{"e1", "e3"}},
		{"?video=42", http.StatusOK, []string{}},
		{"?label=dog", http.StatusOK, []string{}},
		{"?video=abc", http.StatusBadRequest, nil},
		{"?limit=-3", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, f.handler, "/api/events"+tt.query)
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.want, eventIDs(decode[[]events.TrackedEvent](t, rec)))
			}
		})
	}
}

func TestCountVideoLabels(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/videos/1/labels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []db.LabelCount{{Label: "person", Count: 2}, {Label: "car", Count: 1}},
		decode[[]db.LabelCount](t, rec))
}

func TestListLabels(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/labels")
	require.Equal(t, http.StatusOK, rec.Code)
	labels := decode[[]db.Label](t, rec)
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	assert.ElementsMatch(t, []string{"person", "car"}, names)
}

func TestShowTimeline(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/videos/1/timeline")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Event timeline")
	assert.Contains(t, body, "lobby.mp4")
	assert.Contains(t, body, "person")
}

func TestShowStatus(t *testing.T) {
	t.Parallel()
	queue := staticQueue{{Path: "a.mp4", Status: pipeline.StatusCompleted}, {Path: "b.mp4", Status: pipeline.StatusPending}}
	f := setupTestServer(t, queue)

	rec := get(t, f.handler, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[statusResponse](t, rec)
	assert.Equal(t, "dev", got.Build.Version)
	require.Len(t, got.Queue, 2)
	assert.Equal(t, pipeline.StatusPending, got.Queue[1].Status)

	f = setupTestServer(t, nil)
	got = decode[statusResponse](t, get(t, f.handler, "/api/status"))
	assert.Empty(t, got.Queue)
}

func TestRouting(t *testing.T) {
	t.Parallel()
	f := setupTestServer(t, nil)

	rec := get(t, f.handler, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, "100", statusCodeColor(100))
}
