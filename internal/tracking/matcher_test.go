package tracking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher("")
	require.NoError(t, err)
	assert.IsType(t, Greedy{}, m)

	m, err = NewMatcher("hungarian")
	require.NoError(t, err)
	assert.IsType(t, Hungarian{}, m)

	_, err = NewMatcher("kalman")
	assert.Error(t, err)
}

func TestMatchers_Basic(t *testing.T) {
	t.Parallel()

	matchers := map[string]Matcher{"greedy": Greedy{}, "hungarian": Hungarian{}}
	tests := []struct {
		name      string
		tracks    []Point
		centroids []Point
		want      []int
	}{
		{
			name:      "no centroids",
			tracks:    []Point{{X: 0, Y: 0}},
			centroids: nil,
			want:      []int{-1},
		},
		{
			name:      "no tracks",
			tracks:    nil,
			centroids: []Point{{X: 0, Y: 0}},
			want:      []int{},
		},
		{
			name:      "nearest wins",
			tracks:    []Point{{X: 0, Y: 0}, {X: 300, Y: 300}},
			centroids: []Point{{X: 305, Y: 300}, {X: 3, Y: 4}},
			want:      []int{1, 0},
		},
		{
			name:      "threshold is exclusive",
			tracks:    []Point{{X: 0, Y: 0}},
			centroids: []Point{{X: 100, Y: 0}},
			want:      []int{-1},
		},
		{
			name:      "just inside threshold",
			tracks:    []Point{{X: 0, Y: 0}},
			centroids: []Point{{X: 99.9, Y: 0}},
			want:      []int{0},
		},
	}

	for mname, m := range matchers {
		for _, tt := range tests {
			m, tt := m, tt
			t.Run(mname+"/"+tt.name, func(t *testing.T) {
				t.Parallel()
				got := m.Match(tt.tracks, tt.centroids, 100)
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestGreedy_TieBreaksOnLowestIndex(t *testing.T) {
	t.Parallel()
	got := Greedy{}.Match(
		[]Point{{X: 0, Y: 0}},
		[]Point{{X: 10, Y: 0}, {X: -10, Y: 0}},
		100,
	)
	assert.Equal(t, []int{0}, got)
}

func TestGreedy_EarlierTrackWinsContestedCentroid(t *testing.T) {
	t.Parallel()
	// Track 0 claims c0 first, leaving track 1 only c1 which is out of range.
	tracks := []Point{{X: 0, Y: 0}, {X: 60, Y: 0}}
	centroids := []Point{{X: 40, Y: 0}, {X: -70, Y: 0}}

	assert.Equal(t, []int{0, -1}, Greedy{}.Match(tracks, centroids, 100))
	// The optimal assignment matches both.
	assert.Equal(t, []int{1, 0}, Hungarian{}.Match(tracks, centroids, 100))
}

// bestGated exhaustively searches every valid assignment and returns the
// largest match count and, for that count, the lowest total distance.
func bestGated(tracks, centroids []Point, maxDistance float64) (int, float64) {
	bestN, bestCost := 0, 0.0
	claimed := make([]bool, len(centroids))
	var walk func(i, n int, cost float64)
	walk = func(i, n int, cost float64) {
		if i == len(tracks) {
			if n > bestN || (n == bestN && cost < bestCost) {
				bestN, bestCost = n, cost
			}
			return
		}
		walk(i+1, n, cost)
		for j, c := range centroids {
			if claimed[j] {
				continue
			}
			if d := tracks[i].Distance(c); d < maxDistance {
				claimed[j] = true
				walk(i+1, n+1, cost+d)
				claimed[j] = false
			}
		}
	}
	walk(0, 0, 0)
	return bestN, bestCost
}

func TestHungarian_MatchesExhaustiveOptimum(t *testing.T) {
	t.Parallel()
	const maxDistance = 100.0
	rng := rand.New(rand.NewSource(7))
	randomPoints := func(n int) []Point {
		pts := make([]Point, n)
		for i := range pts {
			pts[i] = Point{X: rng.Float64() * 250, Y: rng.Float64() * 250}
		}
		return pts
	}

	for iter := 0; iter < 3000; iter++ {
		tracks := randomPoints(1 + rng.Intn(4))
		centroids := randomPoints(1 + rng.Intn(4))

		got := Hungarian{}.Match(tracks, centroids, maxDistance)
		require.Len(t, got, len(tracks))

		n, cost := 0, 0.0
		seen := make(map[int]bool)
		for i, j := range got {
			if j < 0 {
				continue
			}
			require.False(t, seen[j], "centroid %d claimed twice", j)
			seen[j] = true
			d := tracks[i].Distance(centroids[j])
			require.Less(t, d, maxDistance)
			n++
			cost += d
		}

		wantN, wantCost := bestGated(tracks, centroids, maxDistance)
		require.Equal(t, wantN, n, "case %d: tracks=%v centroids=%v", iter, tracks, centroids)
		require.True(t, math.Abs(wantCost-cost) < 1e-6,
			"case %d: cost %.4f, optimum %.4f (tracks=%v centroids=%v)", iter, cost, wantCost, tracks, centroids)
	}
}
