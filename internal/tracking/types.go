package tracking

import (
	"sort"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
)

// Observation is one detected object in one frame. It carries no identity.
type Observation struct {
	Centroid geom.Point
	Width    float64
	Height   float64
}

// BBox returns the observation's bounding box.
func (o Observation) BBox() geom.BBox {
	return geom.BBox{Center: o.Centroid, Width: o.Width, Height: o.Height}
}

// Status is the lifecycle state of a track.
type Status int

const (
	StatusActive   Status = iota // matched this frame
	StatusCoasting               // missed at least the latest frame, still predicted
	StatusRetired                // exceeded the miss threshold; removed from the set
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCoasting:
		return "coasting"
	case StatusRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Track is the persistent identity and motion estimate of one object.
type Track struct {
	ID     int64
	State  estimator.State
	Age    int // frames since creation
	Misses int // consecutive frames without a matched observation
	Hits   int // total frames with a matched observation, including the first
	Status Status

	// LastBox is the most recently matched bounding box, kept for display.
	LastBox geom.BBox
}

// Position is shorthand for the filtered position.
func (t *Track) Position() geom.Point { return t.State.Position() }

// Velocity is shorthand for the filtered velocity.
func (t *Track) Velocity() geom.Point { return t.State.Velocity() }

func (t *Track) clone() Track {
	c := *t
	c.State = t.State.Clone()
	return c
}

// Snapshot is the read-only view of the tracked set after one update.
// It shares no memory with the Manager, so later stages and other
// goroutines may read it freely.
type Snapshot struct {
	Frame  uint64
	Tracks map[int64]Track
	// Spawned and Retired list the ids created and removed this frame.
	Spawned []int64
	Retired []int64
}

// Len returns the number of live tracks.
func (s Snapshot) Len() int { return len(s.Tracks) }

// Get returns the track with the given id.
func (s Snapshot) Get(id int64) (Track, bool) {
	t, ok := s.Tracks[id]
	return t, ok
}

// IDs returns the live track ids in ascending order.
func (s Snapshot) IDs() []int64 {
	ids := make([]int64, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
