// Package opencv implements the pipeline collaborators on top of gocv:
// file decoding, Darknet YOLO detection and annotated output.
package opencv

import (
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

// Frame is a decoded BGR image.
type Frame struct {
	Mat   gocv.Mat
	index int
}

// Index returns the zero-based position of the frame in its stream.
func (f *Frame) Index() int { return f.index }

// Close releases the image buffer.
func (f *Frame) Close() error { return f.Mat.Close() }

// CaptureSource decodes a video file frame by frame.
type CaptureSource struct {
	capture *gocv.VideoCapture
	meta    video.Metadata
	next    int
}

// OpenCapture opens path and probes its stream properties.
func OpenCapture(path string) (*CaptureSource, error) {
	meta, err := video.Describe(path)
	if err != nil {
		return nil, err
	}
	capture, err := gocv.VideoCaptureFile(meta.FullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture for %s: %w", meta.FullPath, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("capture for %s did not open", meta.FullPath)
	}

	meta.Width = int(capture.Get(gocv.VideoCaptureFrameWidth))
	meta.Height = int(capture.Get(gocv.VideoCaptureFrameHeight))
	meta.FrameRate = capture.Get(gocv.VideoCaptureFPS)
	meta.FrameCount = int(capture.Get(gocv.VideoCaptureFrameCount))
	if meta.FrameRate > 0 && meta.FrameCount > 0 {
		meta.DurationSeconds = float64(meta.FrameCount) / meta.FrameRate
	}
	return &CaptureSource{capture: capture, meta: meta}, nil
}

// Opener opens videos as CaptureSources.
var Opener = pipeline.FrameSourceOpenerFunc(func(path string) (pipeline.FrameSource, error) {
	src, err := OpenCapture(path)
	if err != nil {
		return nil, err
	}
	return src, nil
})

// Next decodes the next frame. It returns io.EOF at the end of the stream.
func (c *CaptureSource) Next() (pipeline.Frame, error) {
	img := gocv.NewMat()
	if ok := c.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, io.EOF
	}
	f := &Frame{Mat: img, index: c.next}
	c.next++
	return f, nil
}

// Metadata returns the file and stream properties probed at open.
func (c *CaptureSource) Metadata() video.Metadata {
	return c.meta
}

// Close releases the capture.
func (c *CaptureSource) Close() error {
	return c.capture.Close()
}
