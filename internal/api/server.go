// Package api serves the read-only JSON API over indexed videos, labels and
// tracked events, plus the processing-queue status.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nekzampe/surveillance-indexer/internal/db"
	"github.com/nekzampe/surveillance-indexer/internal/httputil"
	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// QueueStatus reports the processing queue. *pipeline.VideoQueue
// implements it.
type QueueStatus interface {
	Items() []pipeline.VideoItem
}

// Server handles the /api routes.
type Server struct {
	db      *db.DB
	events  *db.EventStore
	queue   QueueStatus
	started time.Time
}

// NewServer creates a Server. queue may be nil when nothing is being
// processed.
func NewServer(database *db.DB, queue QueueStatus) *Server {
	return &Server{
		db:      database,
		events:  db.NewEventStore(database),
		queue:   queue,
		started: time.Now(),
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.showStatus).Methods(http.MethodGet)
	api.HandleFunc("/videos", s.listVideos).Methods(http.MethodGet)
	api.HandleFunc("/videos/{id:[0-9]+}", s.showVideo).Methods(http.MethodGet)
	api.HandleFunc("/videos/{id:[0-9]+}/events", s.listVideoEvents).Methods(http.MethodGet)
	api.HandleFunc("/videos/{id:[0-9]+}/labels", s.countVideoLabels).Methods(http.MethodGet)
	api.HandleFunc("/videos/{id:[0-9]+}/timeline", s.showTimeline).Methods(http.MethodGet)
	api.HandleFunc("/labels", s.listLabels).Methods(http.MethodGet)
	api.HandleFunc("/events", s.listEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type statusResponse struct {
	Build         version.Info         `json:"build"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Queue         []pipeline.VideoItem `json:"queue"`
}

func (s *Server) showStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Build:         version.Get(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Queue:         []pipeline.VideoItem{},
	}
	if s.queue != nil {
		resp.Queue = s.queue.Items()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.db.ListVideos(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list videos: %v", err))
		return
	}
	httputil.WriteJSONOK(w, videos)
}

// videoFromPath loads the video named by the {id} route variable, writing
// the error response itself when it fails.
func (s *Server) videoFromPath(w http.ResponseWriter, r *http.Request) (db.Video, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "Invalid video id")
		return db.Video{}, false
	}
	v, err := s.db.GetVideo(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("Video %d not found", id))
		return db.Video{}, false
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load video: %v", err))
		return db.Video{}, false
	}
	return v, true
}

func (s *Server) showVideo(w http.ResponseWriter, r *http.Request) {
	v, ok := s.videoFromPath(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, v)
}

func (s *Server) listVideoEvents(w http.ResponseWriter, r *http.Request) {
	v, ok := s.videoFromPath(w, r)
	if !ok {
		return
	}
	s.writeEvents(w, r, v.ID)
}

func (s *Server) countVideoLabels(w http.ResponseWriter, r *http.Request) {
	v, ok := s.videoFromPath(w, r)
	if !ok {
		return
	}
	counts, err := s.events.CountByLabel(r.Context(), v.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to count events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, counts)
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.db.ListLabels(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list labels: %v", err))
		return
	}
	httputil.WriteJSONOK(w, labels)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	videoID, err := httputil.QueryInt64(r, "video", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.writeEvents(w, r, videoID)
}

// writeEvents lists events for videoID (all videos when zero), honouring
// the optional label and limit query parameters.
func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, videoID int64) {
	limit, err := httputil.QueryInt64(r, "limit", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	evs, err := s.events.ListEvents(r.Context(), db.EventFilter{
		VideoID: videoID,
		Label:   r.URL.Query().Get("label"),
		Limit:   int(limit),
	})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, evs)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Serve runs handler on addr until ctx is cancelled, then shuts the server
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
