package actuator

import (
	"sync"
	"testing"

	"github.com/banshee-data/precog/internal/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	danger = safety.Verdict{Danger: true, ThreatTrackID: 1, Step: 3}
	calm   = safety.Clear()
)

func mustGate(t *testing.T, debounce int) *Gate {
	t.Helper()
	g, err := NewGate(debounce)
	require.NoError(t, err)
	return g
}

func TestNewGate(t *testing.T) {
	t.Parallel()

	_, err := NewGate(0)
	assert.Error(t, err)

	g := mustGate(t, 3)
	s := g.Snapshot()
	assert.Equal(t, ModeMoving, s.Mode)
	assert.Zero(t, s.Frame)
}

func TestDangerFreezesImmediately(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 3)
	s := g.Update(calm)
	assert.Equal(t, ModeMoving, s.Mode)
	assert.False(t, s.Changed)

	s = g.Update(danger)
	assert.Equal(t, ModeFrozen, s.Mode)
	assert.True(t, s.Changed)
	assert.Zero(t, s.SinceTransition)
	assert.Equal(t, 1, s.Transitions)
}

func TestResumeNeedsDebounce(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 3)
	g.Update(danger)

	s := g.Update(calm)
	assert.Equal(t, ModeFrozen, s.Mode)
	s = g.Update(calm)
	assert.Equal(t, ModeFrozen, s.Mode)
	assert.Equal(t, 2, s.ClearFrames)
	assert.Equal(t, 2, s.SinceTransition)

	s = g.Update(calm)
	assert.Equal(t, ModeMoving, s.Mode)
	assert.True(t, s.Changed)
	assert.Equal(t, 2, s.Transitions)
}

func TestDangerResetsClearCount(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 3)
	g.Update(danger)
	g.Update(calm)
	g.Update(calm)
	s := g.Update(danger)
	assert.Equal(t, ModeFrozen, s.Mode)
	assert.Zero(t, s.ClearFrames)
	assert.False(t, s.Changed)

	for i := 0; i < 2; i++ {
		s = g.Update(calm)
		assert.Equal(t, ModeFrozen, s.Mode)
	}
	s = g.Update(calm)
	assert.Equal(t, ModeMoving, s.Mode)
}

func TestDebounceOne(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 1)
	g.Update(danger)
	assert.Equal(t, ModeMoving, g.Update(calm).Mode)
}

func TestNeverMovingWhileDanger(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 2)
	seq := []bool{true, false, true, false, false, true, true, false, false, false, true}
	for i, d := range seq {
		v := calm
		if d {
			v = danger
		}
		s := g.Update(v)
		if d {
			assert.Equal(t, ModeFrozen, s.Mode, "frame %d", i)
		}
		assert.Equal(t, uint64(i+1), s.Frame)
	}
}

func TestSnapshotConcurrentReads(t *testing.T) {
	t.Parallel()

	g := mustGate(t, 2)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s := g.Snapshot()
				if s.Mode == ModeMoving {
					assert.True(t, s.Transitions == 0 || s.ClearFrames >= 2, "torn snapshot %+v", s)
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		if i%5 == 0 {
			g.Update(danger)
		} else {
			g.Update(calm)
		}
	}
	wg.Wait()
}

func TestModeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MOVING", ModeMoving.String())
	assert.Equal(t, "FROZEN", ModeFrozen.String())
	assert.Equal(t, "UNKNOWN", Mode(7).String())
	b, err := ModeFrozen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "FROZEN", string(b))
}
