package pipeline

import (
	"context"
	"sort"

	"github.com/nekzampe/surveillance-indexer/internal/tracking"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

// Frame is one decoded image. The orchestrator closes every frame it
// receives once the frame callback returned.
type Frame interface {
	Index() int
	Close() error
}

// FrameSource yields the frames of one video in order. Next returns io.EOF
// after the last frame.
type FrameSource interface {
	Next() (Frame, error)
	Metadata() video.Metadata
	Close() error
}

// FrameSourceOpener opens a video for decoding.
type FrameSourceOpener interface {
	Open(path string) (FrameSource, error)
}

// FrameSourceOpenerFunc adapts a function to FrameSourceOpener.
type FrameSourceOpenerFunc func(path string) (FrameSource, error)

// Open implements FrameSourceOpener.
func (f FrameSourceOpenerFunc) Open(path string) (FrameSource, error) { return f(path) }

// Detector returns the objects found in a frame, already non-max-suppressed.
type Detector interface {
	Detect(frame Frame) ([]tracking.Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(frame Frame) ([]tracking.Detection, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(frame Frame) ([]tracking.Detection, error) { return f(frame) }

// VideoRegistry resolves the stored id of a video, creating the record on
// first sight.
type VideoRegistry interface {
	GetOrCreateVideo(ctx context.Context, path string, meta video.Metadata) (int64, error)
}

// FrameProcessedFunc is called after each frame with the filtered
// detections and a snapshot of the live identities. It runs on the frame
// loop and must not retain frame.
type FrameProcessedFunc func(frame Frame, detections []tracking.Detection, identities []tracking.Identity)

// ClassFilter is the set of detector class names that are tracked. A nil or
// empty filter lets every class through.
type ClassFilter map[string]struct{}

// NewClassFilter builds a filter for names.
func NewClassFilter(names ...string) ClassFilter {
	f := make(ClassFilter, len(names))
	for _, n := range names {
		f[n] = struct{}{}
	}
	return f
}

// Allows reports whether detections of class name are tracked.
func (f ClassFilter) Allows(name string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[name]
	return ok
}

// Filter returns the detections whose class is allowed, in their original
// order.
func (f ClassFilter) Filter(dets []tracking.Detection) []tracking.Detection {
	out := make([]tracking.Detection, 0, len(dets))
	for _, d := range dets {
		if f.Allows(d.ClassName) {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the allowed class names in sorted order.
func (f ClassFilter) Names() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
