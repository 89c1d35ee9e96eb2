package tracking

import (
	"sort"

	"github.com/nekzampe/surveillance-indexer/internal/config"
)

// Config holds the identity tracker parameters.
type Config struct {
	// MaxDisappeared is the number of consecutive unmatched frames an
	// identity survives. It is deregistered on the frame its miss counter
	// first exceeds this value.
	MaxDisappeared int
	// MaxDistance is the exclusive centroid distance, in pixels, within
	// which a detection may be matched to an identity.
	MaxDistance float64
	// Matcher assigns centroids to identities. Nil selects Greedy.
	Matcher Matcher
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MaxDisappeared: 30,
		MaxDistance:    100,
		Matcher:        Greedy{},
	}
}

// ConfigFromIndexer builds a tracker Config from the indexer configuration.
func ConfigFromIndexer(cfg *config.IndexerConfig) (Config, error) {
	m, err := NewMatcher(cfg.GetMatcher())
	if err != nil {
		return Config{}, err
	}
	return Config{
		MaxDisappeared: cfg.GetMaxDisappeared(),
		MaxDistance:    cfg.GetMaxDistance(),
		Matcher:        m,
	}, nil
}

// IdentityTracker keeps the population of live identities and reconciles it
// against each frame's detections. Ids come from a strictly increasing
// counter and are never reused during the tracker's lifetime.
//
// IdentityTracker is not safe for concurrent use; it belongs to the frame
// loop.
type IdentityTracker struct {
	cfg        Config
	nextID     int
	identities map[int]*Identity

	// lastAssociations[i] is the identity id that detection i of the most
	// recent Update was matched to or registered as.
	lastAssociations []int
}

// NewIdentityTracker creates a tracker with the given configuration.
func NewIdentityTracker(cfg Config) *IdentityTracker {
	if cfg.Matcher == nil {
		cfg.Matcher = Greedy{}
	}
	return &IdentityTracker{
		cfg:        cfg,
		identities: make(map[int]*Identity),
	}
}

// Register creates a new identity at centroid with a zero miss counter and
// returns its id.
func (t *IdentityTracker) Register(centroid Point) int {
	id := t.nextID
	t.nextID++
	t.identities[id] = &Identity{ID: id, Centroid: centroid}
	return id
}

// Deregister removes the identity with the given id. Unknown ids are ignored.
func (t *IdentityTracker) Deregister(id int) {
	delete(t.identities, id)
}

// Update reconciles the population with one frame's detections and returns
// the live population as id → centroid.
func (t *IdentityTracker) Update(detections []Detection) map[int]Point {
	t.lastAssociations = make([]int, len(detections))

	if len(detections) == 0 {
		for _, id := range t.sortedIDs() {
			t.miss(id)
		}
		return t.population()
	}

	centroids := make([]Point, len(detections))
	for i, d := range detections {
		centroids[i] = d.Centroid()
	}

	if len(t.identities) == 0 {
		for i, c := range centroids {
			t.lastAssociations[i] = t.Register(c)
		}
		return t.population()
	}

	ids := t.sortedIDs()
	tracks := make([]Point, len(ids))
	for i, id := range ids {
		tracks[i] = t.identities[id].Centroid
	}

	assignment := t.cfg.Matcher.Match(tracks, centroids, t.cfg.MaxDistance)
	claimed := make([]bool, len(centroids))

	for i, id := range ids {
		j := -1
		if i < len(assignment) {
			j = assignment[i]
		}
		if j < 0 || j >= len(centroids) || claimed[j] {
			t.miss(id)
			continue
		}
		ident := t.identities[id]
		ident.Centroid = centroids[j]
		ident.Misses = 0
		claimed[j] = true
		t.lastAssociations[j] = id
	}

	for j, c := range centroids {
		if !claimed[j] {
			t.lastAssociations[j] = t.Register(c)
		}
	}

	return t.population()
}

// Associations returns, per detection index of the most recent Update, the
// identity id the detection was matched to or registered as.
func (t *IdentityTracker) Associations() []int {
	out := make([]int, len(t.lastAssociations))
	copy(out, t.lastAssociations)
	return out
}

// Identities returns a snapshot of the live identities sorted by id.
func (t *IdentityTracker) Identities() []Identity {
	out := make([]Identity, 0, len(t.identities))
	for _, id := range t.sortedIDs() {
		out = append(out, *t.identities[id])
	}
	return out
}

// Len returns the number of live identities.
func (t *IdentityTracker) Len() int {
	return len(t.identities)
}

func (t *IdentityTracker) miss(id int) {
	ident := t.identities[id]
	ident.Misses++
	if ident.Misses > t.cfg.MaxDisappeared {
		t.Deregister(id)
	}
}

func (t *IdentityTracker) population() map[int]Point {
	pop := make(map[int]Point, len(t.identities))
	for id, ident := range t.identities {
		pop[id] = ident.Centroid
	}
	return pop
}

func (t *IdentityTracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.identities))
	for id := range t.identities {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
