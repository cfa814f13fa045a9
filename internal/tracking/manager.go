package tracking

import (
	"fmt"
	"math"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
)

// AssociationMode selects the observation-to-track matching policy.
type AssociationMode string

const (
	// AssociateGreedy matches nearest pairs first (ties: lowest track id).
	AssociateGreedy AssociationMode = "greedy"
	// AssociateHungarian solves the minimum total distance assignment.
	AssociateHungarian AssociationMode = "hungarian"
)

// Config holds the track manager's tuning.
type Config struct {
	// GatingDistance is the largest distance (pixels) between a track's
	// predicted position and an observation for them to be matched. It
	// must exceed typical inter-frame displacement or identities switch.
	GatingDistance float64
	// MissThreshold is the number of consecutive misses a track survives;
	// it is retired when Misses > MissThreshold.
	MissThreshold int
	Association   AssociationMode
}

// DefaultConfig returns the tuning used for webcam-scale scenes.
func DefaultConfig() Config {
	return Config{
		GatingDistance: 80,
		MissThreshold:  5,
		Association:    AssociateGreedy,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if math.IsNaN(c.GatingDistance) || math.IsInf(c.GatingDistance, 0) || c.GatingDistance <= 0 {
		return fmt.Errorf("gating_distance must be positive, got %v", c.GatingDistance)
	}
	if c.MissThreshold < 0 {
		return fmt.Errorf("miss_threshold must be non-negative, got %d", c.MissThreshold)
	}
	switch c.Association {
	case AssociateGreedy, AssociateHungarian:
	default:
		return fmt.Errorf("unknown association mode %q", c.Association)
	}
	return nil
}

// Estimator is the per-track filter the manager delegates state updates to.
// *estimator.Filter satisfies it.
type Estimator interface {
	Init(z geom.Point) estimator.State
	Predict(s *estimator.State, dt float64)
	Correct(s *estimator.State, z geom.Point)
	Record(s *estimator.State, dt float64)
}

// Manager owns the live tracked set. It is not safe for concurrent use:
// the frame loop is its only caller and hands out Snapshots to readers.
type Manager struct {
	cfg    Config
	est    Estimator
	tracks map[int64]*Track
	nextID int64
	frame  uint64

	// Lifetime counters.
	TracksCreated int
	TracksRetired int
}

// NewManager validates cfg and returns an empty manager.
func NewManager(cfg Config, est Estimator) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if est == nil {
		return nil, fmt.Errorf("tracking: estimator is required")
	}
	return &Manager{
		cfg:    cfg,
		est:    est,
		tracks: make(map[int64]*Track),
		nextID: 1,
	}, nil
}

// Reset drops every track. Ids keep increasing so none is ever reused.
func (m *Manager) Reset() {
	m.tracks = make(map[int64]*Track)
}

// Len returns the number of live tracks.
func (m *Manager) Len() int { return len(m.tracks) }

// Update runs one frame: predict every live track by dt, associate the
// observations, correct matched tracks, advance misses on the rest, spawn
// tracks for leftover observations and drop retired ones.
func (m *Manager) Update(observations []Observation, dt float64) Snapshot {
	m.frame++
	snap := Snapshot{Frame: m.frame}

	// Step 1: predict every live track to this frame.
	for _, t := range m.tracks {
		m.est.Predict(&t.State, dt)
		t.Age++
	}

	obs := usableObservations(observations)

	// Step 2: associate against predicted positions.
	ids := m.liveIDs()
	pairs := m.associate(obs, ids)

	// Step 3: correct matched tracks.
	matchedTrack := make(map[int64]bool, len(pairs))
	matchedObs := make([]bool, len(obs))
	for _, p := range pairs {
		t := m.tracks[p.trackID]
		o := obs[p.obsIdx]
		m.est.Correct(&t.State, o.Centroid)
		t.Misses = 0
		t.Hits++
		t.Status = StatusActive
		t.LastBox = o.BBox()
		matchedTrack[p.trackID] = true
		matchedObs[p.obsIdx] = true
	}

	// Step 4: advance misses; retire past the threshold.
	for _, id := range ids {
		if matchedTrack[id] {
			continue
		}
		t := m.tracks[id]
		t.Misses++
		t.Status = StatusCoasting
		if t.Misses > m.cfg.MissThreshold {
			t.Status = StatusRetired
			delete(m.tracks, id)
			m.TracksRetired++
			snap.Retired = append(snap.Retired, id)
		}
	}

	// Step 5: spawn tracks for unmatched observations.
	for i, o := range obs {
		if matchedObs[i] {
			continue
		}
		id := m.nextID
		m.nextID++
		m.tracks[id] = &Track{
			ID:      id,
			State:   m.est.Init(o.Centroid),
			Hits:    1,
			Status:  StatusActive,
			LastBox: o.BBox(),
		}
		m.TracksCreated++
		snap.Spawned = append(snap.Spawned, id)
	}

	// Step 6: feed the acceleration estimate and publish.
	snap.Tracks = make(map[int64]Track, len(m.tracks))
	for id, t := range m.tracks {
		m.est.Record(&t.State, dt)
		snap.Tracks[id] = t.clone()
	}
	return snap
}

func (m *Manager) liveIDs() []int64 {
	ids := make([]int64, 0, len(m.tracks))
	for id := range m.tracks {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// usableObservations drops observations whose centroid is not finite. Such
// readings are sensor glitches and are absorbed like any other miss.
func usableObservations(in []Observation) []Observation {
	out := in[:0:0]
	for _, o := range in {
		if geom.IsFinite(o.Centroid) {
			out = append(out, o)
		}
	}
	return out
}
