package opencv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/tracking"
)

var (
	boxColor      = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	identityColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// Annotate draws each detection's box with a "class: confidence" label, and
// each live identity's id at its centroid.
func Annotate(img *gocv.Mat, dets []tracking.Detection, identities []tracking.Identity) {
	for _, d := range dets {
		rect := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.W, d.Box.Y+d.Box.H)
		gocv.Rectangle(img, rect, boxColor, 2)
		label := fmt.Sprintf("%s: %.2f", d.ClassName, d.Confidence)
		gocv.PutText(img, label, image.Pt(d.Box.X, d.Box.Y-5), gocv.FontHersheySimplex, 0.5, boxColor, 2)
	}
	for _, id := range identities {
		c := image.Pt(int(id.Centroid.X), int(id.Centroid.Y))
		gocv.Circle(img, c, 4, identityColor, -1)
		gocv.PutText(img, fmt.Sprintf("ID %d", id.ID), image.Pt(c.X-10, c.Y-10), gocv.FontHersheySimplex, 0.5, identityColor, 2)
	}
}

// AnnotatedWriter writes annotated frames to a video file. It is used as
// the pipeline's frame callback.
type AnnotatedWriter struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
	err    error
}

// NewAnnotatedWriter creates a writer for path. The file is opened on the
// first frame, when the frame size is known.
func NewAnnotatedWriter(path string, fps float64) *AnnotatedWriter {
	if fps <= 0 {
		fps = 30
	}
	return &AnnotatedWriter{path: path, fps: fps}
}

// OnFrame implements pipeline.FrameProcessedFunc. Write errors are kept and
// reported by Close; frames after the first error are dropped.
func (w *AnnotatedWriter) OnFrame(frame pipeline.Frame, dets []tracking.Detection, identities []tracking.Identity) {
	f, ok := frame.(*Frame)
	if !ok || w.err != nil {
		return
	}
	Annotate(&f.Mat, dets, identities)

	if w.writer == nil {
		vw, err := gocv.VideoWriterFile(w.path, "mp4v", w.fps, f.Mat.Cols(), f.Mat.Rows(), true)
		if err != nil {
			w.err = fmt.Errorf("failed to open annotated output %s: %w", w.path, err)
			return
		}
		w.writer = vw
	}
	if err := w.writer.Write(f.Mat); err != nil {
		w.err = fmt.Errorf("failed to write annotated frame %d: %w", f.Index(), err)
	}
}

// Close finishes the output file and returns the first write error.
func (w *AnnotatedWriter) Close() error {
	if w.writer != nil {
		if err := w.writer.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	return w.err
}
