// Package video describes video files: their on-disk identity and stream
// properties, and the tick clock derived from frame positions.
package video

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Metadata describes one video file.
type Metadata struct {
	FileName        string  `json:"file_name"`
	FullPath        string  `json:"full_path"`
	FileSize        int64   `json:"file_size"`
	MD5             string  `json:"md5"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
	FrameCount      int     `json:"frame_count"`
}

// Describe fills the file-level fields of Metadata for path: absolute path,
// base name, size, and MD5 checksum. Stream properties are left zero.
func Describe(path string) (Metadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return Metadata{}, fmt.Errorf("%s is a directory", abs)
	}
	sum, err := FileMD5(abs)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		FileName: filepath.Base(abs),
		FullPath: abs,
		FileSize: info.Size(),
		MD5:      sum,
	}, nil
}

// FileMD5 returns the hex MD5 digest of the file at path.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TickSource maps a frame index to a monotonically increasing tick.
type TickSource interface {
	Tick(frameIndex int) int64
}

// FrameRateTicks derives ticks in nanoseconds from the frame rate:
// tick = index · 1e9 / FPS. A non-positive FPS falls back to 30.
type FrameRateTicks struct {
	FPS float64
}

// Tick implements TickSource.
func (f FrameRateTicks) Tick(frameIndex int) int64 {
	fps := f.FPS
	if fps <= 0 {
		fps = 30
	}
	return int64(float64(frameIndex) * float64(time.Second) / fps)
}
