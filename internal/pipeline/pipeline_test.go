package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/sensor"
	"github.com/banshee-data/precog/internal/timeutil"
	"github.com/banshee-data/precog/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approachZone = `"zone": {"shape": "circle", "center_x": 200, "center_y": 300, "radius": 20}`

var epoch = time.Unix(1_700_000_000, 0)

func mustConfig(t *testing.T, body string) *config.SafetyConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(body))
	require.NoError(t, err)
	return cfg
}

func mustPipeline(t *testing.T, body string, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(mustConfig(t, body), opts...)
	require.NoError(t, err)
	return p
}

func frameAt(seq int, ts time.Time, pts ...geom.Point) sensor.Frame {
	f := sensor.Frame{Seq: uint64(seq), Timestamp: ts}
	for _, pt := range pts {
		f.Observations = append(f.Observations, tracking.Observation{Centroid: pt, Width: 20, Height: 20})
	}
	return f
}

type collector struct {
	mu      sync.Mutex
	results []*FrameResult
}

func (c *collector) ObserveFrame(r *FrameResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

// arrivalFrame is the first frame whose true position is inside the zone.
func arrivalFrame(start, speed, edge float64) int {
	n := 0
	for start+speed*float64(n) < edge {
		n++
	}
	return n
}

func TestApproachFreezesAheadOfArrival(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{`+approachZone+`, "horizon": 40}`)
	src := sensor.NewSynthetic([]sensor.Mover{{Start: geom.Pt(0, 300), Velocity: geom.Pt(5, 0)}},
		45, 33*time.Millisecond, epoch, 1)
	arrival := arrivalFrame(0, 5, 180)
	require.Equal(t, 36, arrival)

	frozenAt := -1
	for n := 0; n < 45; n++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		r := p.Step(f)
		assert.InDelta(t, 1.0, r.DT, 1e-9)

		if r.Actuator.Mode == actuator.ModeFrozen && frozenAt < 0 {
			frozenAt = n
			// The predicted entry step matches the remaining true distance.
			assert.InDelta(t, arrival-n, r.Verdict.Step, 3, "step at first freeze")
			assert.Equal(t, int64(1), r.Verdict.ThreatTrackID)
		}
		if frozenAt >= 0 {
			assert.Equal(t, actuator.ModeFrozen, r.Actuator.Mode, "frame %d must stay frozen", n)
		}
	}
	require.GreaterOrEqual(t, frozenAt, 0, "never froze")
	assert.LessOrEqual(t, frozenAt, 3, "velocity estimate should settle within a few frames")
	assert.GreaterOrEqual(t, arrival-frozenAt, 33)
}

func TestConvergedTrackFreezesAtHorizon(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{`+approachZone+`, "horizon": 40}`)
	src := sensor.NewSynthetic([]sensor.Mover{{Start: geom.Pt(-300, 300), Velocity: geom.Pt(5, 0)}},
		120, 33*time.Millisecond, epoch, 1)
	arrival := arrivalFrame(-300, 5, 180)

	frozenAt := -1
	for n := 0; n < 120; n++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		r := p.Step(f)
		if r.Actuator.Mode == actuator.ModeFrozen {
			frozenAt = n
			break
		}
	}
	require.GreaterOrEqual(t, frozenAt, 0)
	assert.GreaterOrEqual(t, arrival-frozenAt, 36)
	assert.LessOrEqual(t, arrival-frozenAt, 41)
}

func TestRecedingObjectReleasesAfterDebounce(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{`+approachZone+`, "debounce_frames": 3, "measurement_noise": 0.01}`)

	// Sits inside the zone, then leaves it quickly heading away.
	var frames []sensor.Frame
	for n := 0; n < 5; n++ {
		frames = append(frames, frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond), geom.Pt(200, 300)))
	}
	for n := 5; n < 40; n++ {
		x := 200 + 30*float64(n-4)
		frames = append(frames, frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond), geom.Pt(x, 300)))
	}

	var modes []actuator.Mode
	for _, f := range frames {
		modes = append(modes, p.Step(f).Actuator.Mode)
	}
	assert.Equal(t, actuator.ModeFrozen, modes[0])
	assert.Equal(t, actuator.ModeMoving, modes[len(modes)-1])

	// MOVING only ever follows three clear frames.
	last := p.Last()
	require.NotNil(t, last)
	assert.False(t, last.Verdict.Danger)
	assert.GreaterOrEqual(t, last.Actuator.ClearFrames, 3)
}

func TestCoastingTrackStillFreezes(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{`+approachZone+`, "miss_threshold": 10}`)
	for n := 0; n < 10; n++ {
		p.Step(frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond), geom.Pt(float64(5*n), 300)))
	}
	var r *FrameResult
	for n := 10; n < 14; n++ {
		r = p.Step(frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond)))
	}
	tr, ok := r.Tracks.Get(1)
	require.True(t, ok)
	assert.Equal(t, tracking.StatusCoasting, tr.Status)
	assert.True(t, r.Verdict.Danger)
	assert.Equal(t, actuator.ModeFrozen, r.Actuator.Mode)
	assert.Len(t, r.Paths[1], 40)
}

func TestEmptyStream(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{`+approachZone+`}`)
	for n := 0; n < 10; n++ {
		r := p.Step(frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond)))
		assert.Zero(t, r.Tracks.Len())
		assert.Empty(t, r.Paths)
		assert.False(t, r.Verdict.Danger)
		assert.Equal(t, actuator.ModeMoving, r.Actuator.Mode)
	}
}

func TestMeasuredDt(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{"frame_dt": "40ms", "max_frame_dt": "200ms"}`)
	cases := []struct {
		offset time.Duration
		dt     float64
	}{
		{0, 1},                        // first frame: nominal
		{40 * time.Millisecond, 1},    // on time
		{120 * time.Millisecond, 2},   // one dropped frame
		{140 * time.Millisecond, 0.5}, // early
		{140 * time.Millisecond, 1},   // repeated timestamp: nominal
		{5 * time.Second, 5},          // stall: clamped to 200ms
	}
	for i, tc := range cases {
		r := p.Step(frameAt(i+1, epoch.Add(tc.offset)))
		assert.InDelta(t, tc.dt, r.DT, 1e-9, "frame %d", i)
	}
}

func TestDtFromClockWithoutTimestamps(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	p := mustPipeline(t, `{"frame_dt": "50ms", "time_unit": "second"}`, WithClock(clock))

	r := p.Step(sensor.Frame{})
	assert.InDelta(t, 0.05, r.DT, 1e-12)
	clock.Advance(100 * time.Millisecond)
	r = p.Step(sensor.Frame{})
	assert.InDelta(t, 0.1, r.DT, 1e-12)
	assert.Equal(t, 100*time.Millisecond, r.RawDT)
}

func TestFixedDt(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{"dt_source": "fixed", "frame_dt": "33ms"}`)
	for i, off := range []time.Duration{0, time.Second, 3 * time.Second} {
		r := p.Step(frameAt(i+1, epoch.Add(off)))
		assert.Equal(t, 1.0, r.DT)
	}
}

// steppingClock advances by step on every Now call.
type steppingClock struct {
	*timeutil.MockClock
	step time.Duration
}

func (c steppingClock) Now() time.Time {
	c.MockClock.Advance(c.step)
	return c.MockClock.Now()
}

func (c steppingClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func TestDeadlineAccounting(t *testing.T) {
	t.Parallel()

	slow := steppingClock{MockClock: timeutil.NewMockClock(epoch), step: 40 * time.Millisecond}
	p := mustPipeline(t, `{"frame_deadline": "30ms"}`, WithClock(slow))
	r := p.Step(frameAt(1, epoch))
	assert.True(t, r.Overrun)
	assert.Equal(t, 40*time.Millisecond, r.Elapsed)

	fast := mustPipeline(t, `{"frame_deadline": "30ms"}`, WithClock(timeutil.NewMockClock(epoch)))
	assert.False(t, fast.Step(frameAt(1, epoch)).Overrun)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(1), st.Overruns)
	assert.Equal(t, 40*time.Millisecond, st.MaxElapsed)
}

func TestSinksAndLast(t *testing.T) {
	t.Parallel()

	var c collector
	p := mustPipeline(t, `{}`, WithSink(&c))
	assert.Nil(t, p.Last())

	r1 := p.Step(frameAt(1, epoch, geom.Pt(10, 10)))
	r2 := p.Step(frameAt(2, epoch.Add(33*time.Millisecond), geom.Pt(12, 10)))
	assert.Equal(t, []*FrameResult{r1, r2}, c.results)
	assert.Same(t, r2, p.Last())
	assert.Equal(t, uint64(2), r2.Frame)
	assert.Equal(t, 1, p.Stats().TracksCreated)
}

func TestSequenceRestartDropsTracks(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{}`)
	for n := 0; n < 5; n++ {
		p.Step(frameAt(n+1, epoch.Add(time.Duration(n)*33*time.Millisecond), geom.Pt(10, 10)))
	}
	require.Equal(t, 1, p.Last().Tracks.Len())

	r := p.Step(frameAt(1, epoch.Add(10*time.Second), geom.Pt(400, 400)))
	assert.Equal(t, []int64{2}, r.Tracks.IDs(), "old track dropped, ids not reused")
	assert.Equal(t, []int64{2}, r.Tracks.Spawned)
	assert.InDelta(t, 1, r.DT, 1e-9, "nominal dt after restart")
	assert.Equal(t, 2, p.Stats().TracksCreated)

	// Seq 1 on a fresh pipeline is not a restart.
	fresh := mustPipeline(t, `{}`)
	fresh.Step(frameAt(1, epoch, geom.Pt(10, 10)))
	assert.Equal(t, 1, fresh.Step(frameAt(2, epoch.Add(33*time.Millisecond), geom.Pt(11, 10))).Tracks.Len())
}

func TestRun(t *testing.T) {
	t.Parallel()

	var c collector
	p := mustPipeline(t, `{`+approachZone+`}`, WithSink(&c))
	src := sensor.NewSynthetic(sensor.DemoScene(), 25, 33*time.Millisecond, epoch, 7)
	require.NoError(t, p.Run(context.Background(), src))
	assert.Len(t, c.results, 25)
	assert.Equal(t, uint64(25), p.Stats().Frames)
}

type failingSource struct{ err error }

func (s failingSource) Next(context.Context) (sensor.Frame, error) { return sensor.Frame{}, s.err }

func TestRunErrors(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, `{}`)
	boom := errors.New("sensor unplugged")
	err := p.Run(context.Background(), failingSource{err: boom})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, p.Run(context.Background(), failingSource{err: io.EOF}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Run(ctx, sensor.NewSynthetic(sensor.DemoScene(), 10, time.Millisecond, epoch, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	bad := -1.0
	_, err = New(&config.SafetyConfig{GatingDistance: &bad})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
