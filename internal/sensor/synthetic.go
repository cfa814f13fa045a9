package sensor

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/timeutil"
	"github.com/banshee-data/precog/internal/tracking"
)

// Mover is a scripted constant-velocity object.
type Mover struct {
	Start    geom.Point
	Velocity geom.Point // pixels per frame
	Width    float64
	Height   float64
	// Enter and Exit bound the frames in which the mover is visible;
	// Exit 0 means until the end.
	Enter int
	Exit  int
}

// At returns the mover's centroid at frame n.
func (m Mover) At(n int) geom.Point {
	return m.Start.Add(m.Velocity.Mul(float64(n)))
}

func (m Mover) visible(n int) bool {
	return n >= m.Enter && (m.Exit == 0 || n < m.Exit)
}

// Synthetic generates a scripted scene for demos and tests.
type Synthetic struct {
	Movers  []Mover
	Frames  int
	FrameDT time.Duration
	// Noise is the standard deviation of Gaussian centroid jitter.
	Noise float64
	// DropRate is the probability of a mover being missed in a frame.
	DropRate float64
	Realtime bool
	Clock    timeutil.Clock

	start time.Time
	n     int
	rng   *rand.Rand
}

// NewSynthetic returns a generator producing frames frames of movers,
// timestamped frameDT apart from start.
func NewSynthetic(movers []Mover, frames int, frameDT time.Duration, start time.Time, seed int64) *Synthetic {
	return &Synthetic{
		Movers:  movers,
		Frames:  frames,
		FrameDT: frameDT,
		Clock:   timeutil.RealClock{},
		start:   start,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// DemoScene is the approach scenario: one object travelling along y=300 at
// 5 px/frame towards a zone at (200, 300), plus a bystander that never
// comes near it.
func DemoScene() []Mover {
	return []Mover{
		{Start: geom.Pt(0, 300), Velocity: geom.Pt(5, 0), Width: 40, Height: 60},
		{Start: geom.Pt(600, 50), Velocity: geom.Pt(-2, 0.5), Width: 30, Height: 30, Enter: 10},
	}
}

// Next returns the next frame or io.EOF after Frames frames.
func (s *Synthetic) Next(ctx context.Context) (Frame, error) {
	if s.n >= s.Frames {
		return Frame{}, io.EOF
	}
	if s.Realtime && s.n > 0 {
		if err := waitFor(ctx, s.Clock.After(s.FrameDT)); err != nil {
			return Frame{}, err
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Seq:       uint64(s.n + 1),
		Timestamp: s.start.Add(time.Duration(s.n) * s.FrameDT),
	}
	for _, m := range s.Movers {
		if !m.visible(s.n) {
			continue
		}
		if s.DropRate > 0 && s.rng.Float64() < s.DropRate {
			continue
		}
		c := m.At(s.n)
		if s.Noise > 0 {
			c = c.Add(geom.Pt(s.rng.NormFloat64()*s.Noise, s.rng.NormFloat64()*s.Noise))
		}
		f.Observations = append(f.Observations, tracking.Observation{Centroid: c, Width: m.Width, Height: m.Height})
	}
	s.n++
	return f, nil
}
