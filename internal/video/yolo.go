package video

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/nekzampe/surveillance-indexer/internal/tracking"
)

// LoadClassNames reads a Darknet names file: one class per line, blank
// lines ignored. The line index is the class id.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	return ParseClassNames(data), nil
}

// ParseClassNames parses the contents of a names file.
func ParseClassNames(data []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// DecodeYOLORow decodes one row of a YOLO output layer:
// [cx, cy, w, h, objectness, class scores...] with coordinates normalised to
// the frame. The detection confidence is the best class score. Rows below
// minConfidence, and rows whose best class has no name, report false.
func DecodeYOLORow(row []float32, frameW, frameH int, classNames []string, minConfidence float32) (tracking.Detection, bool) {
	if len(row) < 6 {
		return tracking.Detection{}, false
	}
	scores := row[5:]
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	conf := scores[best]
	if conf < minConfidence || best >= len(classNames) {
		return tracking.Detection{}, false
	}

	cx := float64(row[0]) * float64(frameW)
	cy := float64(row[1]) * float64(frameH)
	w := float64(row[2]) * float64(frameW)
	h := float64(row[3]) * float64(frameH)
	return tracking.Detection{
		Box: tracking.Box{
			X: int(cx - w/2),
			Y: int(cy - h/2),
			W: int(w),
			H: int(h),
		},
		Confidence: conf,
		ClassID:    best,
		ClassName:  classNames[best],
	}, true
}
