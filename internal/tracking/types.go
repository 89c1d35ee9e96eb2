// Package tracking maintains frame-to-frame object identities by matching
// detection centroids against the last known position of each identity.
package tracking

import "gonum.org/v1/gonum/floats"

// Point is a position in frame-pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return floats.Distance([]float64{p.X, p.Y}, []float64{q.X, q.Y}, 2)
}

// Box is an axis-aligned bounding box with its top-left corner at (X, Y).
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the geometric center of the box.
func (b Box) Center() Point {
	return Point{
		X: float64(b.X) + float64(b.W)/2,
		Y: float64(b.Y) + float64(b.H)/2,
	}
}

// Detection is a single detector output for one frame. Detections are
// already non-max-suppressed when they reach the tracker.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Centroid returns the center of the detection's bounding box.
func (d Detection) Centroid() Point {
	return d.Box.Center()
}

// Identity is a tracked object as seen by the tracker: its last matched
// centroid and the number of consecutive frames it has gone unmatched.
type Identity struct {
	ID       int   `json:"id"`
	Centroid Point `json:"centroid"`
	Misses   int   `json:"misses"`
}
