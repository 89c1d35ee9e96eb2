package tracking

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matcher assigns detection centroids to existing identities.
//
// tracks holds the identities' last centroids in ascending id order. The
// result has one entry per track: the index into centroids that the track
// claims, or -1 when the track goes unmatched this frame. A centroid is
// claimed by at most one track and only at a distance strictly below
// maxDistance.
type Matcher interface {
	Match(tracks, centroids []Point, maxDistance float64) []int
}

// NewMatcher returns the matcher registered under name ("greedy" or
// "hungarian"). An empty name selects Greedy.
func NewMatcher(name string) (Matcher, error) {
	switch name {
	case "", "greedy":
		return Greedy{}, nil
	case "hungarian":
		return Hungarian{}, nil
	default:
		return nil, fmt.Errorf("unknown matcher %q", name)
	}
}

// Greedy visits tracks in order and lets each claim its nearest unclaimed
// centroid. It is not globally optimal: an earlier track can take a centroid
// that a later track needed more, which mis-associates crossing objects.
type Greedy struct{}

// Match implements Matcher.
func (Greedy) Match(tracks, centroids []Point, maxDistance float64) []int {
	result := make([]int, len(tracks))
	claimed := make([]bool, len(centroids))

	for i, track := range tracks {
		result[i] = -1
		best := -1
		bestDist := math.Inf(1)
		for j, c := range centroids {
			if claimed[j] {
				continue
			}
			if d := track.Distance(c); d < bestDist {
				best, bestDist = j, d
			}
		}
		if best >= 0 && bestDist < maxDistance {
			result[i] = best
			claimed[best] = true
		}
	}
	return result
}

// Hungarian solves the gated assignment optimally: it matches as many pairs
// as possible, and among those assignments picks the one with the lowest
// total distance. Pairs at or beyond maxDistance are forbidden.
type Hungarian struct{}

// Match implements Matcher.
func (Hungarian) Match(tracks, centroids []Point, maxDistance float64) []int {
	if len(tracks) == 0 {
		return []int{}
	}
	if len(centroids) == 0 {
		result := make([]int, len(tracks))
		for i := range result {
			result[i] = -1
		}
		return result
	}

	cost := mat.NewDense(len(tracks), len(centroids), nil)
	for i, track := range tracks {
		for j, c := range centroids {
			d := track.Distance(c)
			if d >= maxDistance {
				d = forbiddenCost
			}
			cost.Set(i, j, d)
		}
	}
	return hungarianAssign(cost)
}
