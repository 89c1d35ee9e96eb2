package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/video"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Video is a stored video record.
type Video struct {
	ID              int64     `json:"id"`
	FileName        string    `json:"file_name"`
	FullPath        string    `json:"full_path"`
	MD5             string    `json:"md5"`
	FileSize        int64     `json:"file_size"`
	DurationSeconds float64   `json:"duration_seconds"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	FrameRate       float64   `json:"frame_rate"`
	IngestedAt      time.Time `json:"ingested_at"`
}

const videoColumns = `id, file_name, full_path, md5, file_size, duration_seconds, width, height, frame_rate, ingested_at`

func scanVideo(row interface{ Scan(...any) error }) (Video, error) {
	var v Video
	var ingested int64
	err := row.Scan(&v.ID, &v.FileName, &v.FullPath, &v.MD5, &v.FileSize,
		&v.DurationSeconds, &v.Width, &v.Height, &v.FrameRate, &ingested)
	if err != nil {
		return Video{}, err
	}
	v.IngestedAt = time.Unix(0, ingested).UTC()
	return v, nil
}

// GetOrCreateVideo returns the id of the video stored under path, inserting
// a record built from md when none exists. An existing record is returned
// unchanged.
func (db *DB) GetOrCreateVideo(ctx context.Context, path string, md video.Metadata) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("video path must not be empty")
	}
	fileName := md.FileName
	if fileName == "" {
		fileName = path
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO videos (file_name, full_path, md5, file_size, duration_seconds, width, height, frame_rate, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(full_path) DO NOTHING`,
		fileName, path, md.MD5, md.FileSize, md.DurationSeconds, md.Width, md.Height, md.FrameRate,
		time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert video %s: %w", path, err)
	}

	var id int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM videos WHERE full_path = ?`, path).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up video %s: %w", path, err)
	}
	return id, nil
}

// GetVideo returns the video with the given id.
func (db *DB) GetVideo(ctx context.Context, id int64) (Video, error) {
	v, err := scanVideo(db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Video{}, fmt.Errorf("failed to get video %d: %w", id, err)
	}
	return v, nil
}

// ListVideos returns every stored video, most recently ingested first.
func (db *DB) ListVideos(ctx context.Context) ([]Video, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY ingested_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	videos := []Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
