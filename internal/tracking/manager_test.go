package tracking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	f, err := estimator.New(estimator.DefaultConfig())
	require.NoError(t, err)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, f)
	require.NoError(t, err)
	return m
}

func obsAt(x, y float64) Observation {
	return Observation{Centroid: geom.Pt(x, y), Width: 40, Height: 30}
}

func TestNewManagerValidates(t *testing.T) {
	t.Parallel()

	f, err := estimator.New(estimator.DefaultConfig())
	require.NoError(t, err)

	_, err = NewManager(Config{GatingDistance: 0, MissThreshold: 5, Association: AssociateGreedy}, f)
	assert.Error(t, err)
	_, err = NewManager(Config{GatingDistance: 10, MissThreshold: -1, Association: AssociateGreedy}, f)
	assert.Error(t, err)
	_, err = NewManager(Config{GatingDistance: 10, MissThreshold: 1, Association: "magic"}, f)
	assert.Error(t, err)
	_, err = NewManager(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestSpawnFromScratch(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	snap := m.Update([]Observation{obsAt(10, 10), obsAt(300, 300)}, 1)

	require.Equal(t, 2, snap.Len())
	assert.Equal(t, []int64{1, 2}, snap.IDs())
	assert.Equal(t, []int64{1, 2}, snap.Spawned)
	for _, id := range snap.IDs() {
		tr, ok := snap.Get(id)
		require.True(t, ok)
		assert.Equal(t, StatusActive, tr.Status)
		assert.Zero(t, tr.Misses)
		assert.Zero(t, tr.Age)
		assert.Equal(t, 40.0, tr.LastBox.Width)
	}
}

func TestMatchedTrackKeepsIdentity(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	m.Update([]Observation{obsAt(0, 300)}, 1)
	for k := 1; k <= 10; k++ {
		snap := m.Update([]Observation{obsAt(float64(5*k), 300)}, 1)
		require.Equal(t, []int64{1}, snap.IDs())
		tr, _ := snap.Get(1)
		assert.Equal(t, k, tr.Age)
		assert.Equal(t, k+1, tr.Hits)
	}
	assert.Equal(t, 1, m.TracksCreated)
}

func TestMissesAndRetirement(t *testing.T) {
	t.Parallel()

	const threshold = 3
	m := newTestManager(t, func(c *Config) { c.MissThreshold = threshold })
	m.Update([]Observation{obsAt(50, 50)}, 1)

	for miss := 1; miss <= threshold; miss++ {
		snap := m.Update(nil, 1)
		tr, ok := snap.Get(1)
		require.True(t, ok, "track must survive miss %d", miss)
		assert.Equal(t, miss, tr.Misses)
		assert.Equal(t, StatusCoasting, tr.Status)
	}

	// A matched frame resets the counter.
	snap := m.Update([]Observation{obsAt(51, 50)}, 1)
	tr, _ := snap.Get(1)
	assert.Zero(t, tr.Misses)
	assert.Equal(t, StatusActive, tr.Status)

	for miss := 1; miss <= threshold; miss++ {
		snap = m.Update(nil, 1)
		assert.Equal(t, 1, snap.Len())
	}
	snap = m.Update(nil, 1)
	assert.Zero(t, snap.Len(), "removed once misses exceed the threshold")
	assert.Equal(t, []int64{1}, snap.Retired)
	assert.Equal(t, 1, m.TracksRetired)

	// Re-entry gets a fresh id.
	snap = m.Update([]Observation{obsAt(51, 50)}, 1)
	assert.Equal(t, []int64{2}, snap.IDs())
}

func TestEmptyStreamRemovesTrack(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	m.Update([]Observation{obsAt(0, 0)}, 1)
	var snap Snapshot
	for i := 0; i < DefaultConfig().MissThreshold+1; i++ {
		snap = m.Update(nil, 1)
	}
	assert.Zero(t, snap.Len())
	snap = m.Update(nil, 1)
	assert.Zero(t, snap.Len())
}

func TestCoastingTrackKeepsMoving(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	for k := 0; k <= 20; k++ {
		m.Update([]Observation{obsAt(float64(4*k), 100)}, 1)
	}
	before, _ := m.Update(nil, 1).Get(1)
	after, _ := m.Update(nil, 1).Get(1)

	assert.Equal(t, StatusCoasting, after.Status)
	assert.InDelta(t, before.Velocity().X, after.Position().X-before.Position().X, 1e-9)
	assert.Greater(t, after.Position().X, 80.0)
}

func TestGatingSpawnsDistantObservation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.GatingDistance = 20 })
	m.Update([]Observation{obsAt(0, 0)}, 1)
	snap := m.Update([]Observation{obsAt(25, 0)}, 1)

	assert.Equal(t, []int64{1, 2}, snap.IDs())
	tr, _ := snap.Get(1)
	assert.Equal(t, StatusCoasting, tr.Status)
}

func TestGreedyPrefersNearestThenLowestID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	m.Update([]Observation{obsAt(0, 0), obsAt(20, 0)}, 1)

	// Equidistant from both tracks: the lower id wins, the other coasts.
	snap := m.Update([]Observation{obsAt(10, 0)}, 1)
	t1, _ := snap.Get(1)
	t2, _ := snap.Get(2)
	assert.Equal(t, StatusActive, t1.Status)
	assert.Equal(t, StatusCoasting, t2.Status)

	m2 := newTestManager(t, nil)
	m2.Update([]Observation{obsAt(0, 0), obsAt(20, 0)}, 1)
	snap = m2.Update([]Observation{obsAt(15, 0)}, 1)
	t1, _ = snap.Get(1)
	t2, _ = snap.Get(2)
	assert.Equal(t, StatusCoasting, t1.Status)
	assert.Equal(t, StatusActive, t2.Status)
}

func TestHungarianMinimisesTotalDistance(t *testing.T) {
	t.Parallel()

	setup := func(mode AssociationMode) Snapshot {
		m := newTestManager(t, func(c *Config) {
			c.GatingDistance = 30
			c.Association = mode
		})
		m.Update([]Observation{obsAt(0, 0), obsAt(10, 0)}, 1)
		return m.Update([]Observation{obsAt(9, 0), obsAt(21, 0)}, 1)
	}

	greedy := setup(AssociateGreedy)
	t1, _ := greedy.Get(1)
	t2, _ := greedy.Get(2)
	assert.Greater(t, t1.Position().X, 10.0, "greedy hands the far observation to track 1")
	assert.Less(t, t2.Position().X, 10.0)

	optimal := setup(AssociateHungarian)
	t1, _ = optimal.Get(1)
	t2, _ = optimal.Get(2)
	assert.Less(t, t1.Position().X, 10.0)
	assert.Greater(t, t2.Position().X, 10.0)
	assert.Equal(t, 2, optimal.Len())
}

func TestHungarianPrefersNearObservationWithSpareObservations(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.Association = AssociateHungarian })
	m.Update([]Observation{obsAt(0, 0)}, 1)
	snap := m.Update([]Observation{obsAt(60, 0), obsAt(1, 0)}, 1)

	require.Equal(t, 2, snap.Len())
	t1, ok := snap.Get(1)
	require.True(t, ok)
	assert.Less(t, t1.Position().X, 5.0, "track 1 keeps the 1px observation")
	assert.Equal(t, []int64{2}, snap.Spawned)
	t2, _ := snap.Get(2)
	assert.InDelta(t, 60, t2.Position().X, 1e-9)
}

func TestNonFiniteObservationIgnored(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	snap := m.Update([]Observation{
		{Centroid: geom.Pt(math.NaN(), 1)},
		{Centroid: geom.Pt(1, math.Inf(1))},
		obsAt(5, 5),
	}, 1)
	assert.Equal(t, 1, snap.Len())
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	snap := m.Update([]Observation{obsAt(0, 0)}, 1)
	tr, _ := snap.Get(1)
	m.Update([]Observation{obsAt(10, 0)}, 1)

	again, _ := snap.Get(1)
	assert.Equal(t, tr.Position(), again.Position())
	assert.Equal(t, 0.0, again.Position().X)
}

func TestIDsUniqueUnderRandomStreams(t *testing.T) {
	t.Parallel()

	for _, mode := range []AssociationMode{AssociateGreedy, AssociateHungarian} {
		rng := rand.New(rand.NewSource(42))
		m := newTestManager(t, func(c *Config) {
			c.Association = mode
			c.MissThreshold = 2
		})
		seen := make(map[int64]bool)
		lastMisses := make(map[int64]int)
		for frame := 0; frame < 300; frame++ {
			n := rng.Intn(5)
			obs := make([]Observation, n)
			for i := range obs {
				obs[i] = obsAt(rng.Float64()*640, rng.Float64()*480)
			}
			snap := m.Update(obs, 1)

			ids := snap.IDs()
			unique := make(map[int64]bool, len(ids))
			for _, id := range ids {
				require.False(t, unique[id], "duplicate id %d", id)
				unique[id] = true
				tr, _ := snap.Get(id)
				assert.Equal(t, id, tr.ID)
				assert.LessOrEqual(t, tr.Misses, 2)
				if tr.Misses > 0 {
					assert.Equal(t, lastMisses[id]+1, tr.Misses)
				}
				lastMisses[id] = tr.Misses
			}
			for _, id := range snap.Spawned {
				require.False(t, seen[id], "id %d reused", id)
				seen[id] = true
			}
		}
	}
}

func TestSolveAssignment(t *testing.T) {
	t.Parallel()

	t.Run("square", func(t *testing.T) {
		got := solveAssignment([][]float64{
			{4, 1, 3},
			{2, 0, 5},
			{3, 2, 2},
		})
		assert.Equal(t, []int{1, 0, 2}, got)
	})

	t.Run("more rows than columns", func(t *testing.T) {
		got := solveAssignment([][]float64{
			{1},
			{0.5},
		})
		assert.Equal(t, []int{-1, 0}, got)
	})

	t.Run("forbidden pairs stay unassigned", func(t *testing.T) {
		got := solveAssignment([][]float64{
			{gatedOut, gatedOut},
			{gatedOut, 3},
		})
		assert.Equal(t, []int{-1, 1}, got)
	})

	t.Run("small differences survive padding", func(t *testing.T) {
		got := solveAssignment([][]float64{
			{10},
			{10.5},
			{9.9},
		})
		assert.Equal(t, []int{-1, -1, 0}, got)

		got = solveAssignment([][]float64{{2.0, 1.5, 1.75}})
		assert.Equal(t, []int{1}, got)
	})

	t.Run("gated pair does not block a full matching", func(t *testing.T) {
		got := solveAssignment([][]float64{
			{gatedOut, 2},
			{1, 50},
		})
		assert.Equal(t, []int{1, 0}, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, solveAssignment(nil))
		assert.Equal(t, []int{-1}, solveAssignment([][]float64{{}}))
	})
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "active", StatusActive.String())
	assert.Equal(t, "coasting", StatusCoasting.String())
	assert.Equal(t, "retired", StatusRetired.String())
	assert.Equal(t, "unknown", Status(9).String())
}
