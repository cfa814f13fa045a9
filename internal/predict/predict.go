package predict

import (
	"fmt"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/tracking"
)

// Model selects the extrapolation formula.
type Model string

const (
	ModelLinear    Model = "linear"
	ModelQuadratic Model = "quadratic"
)

// Config holds the predictor's tuning.
type Config struct {
	// Horizon is the number of future steps in every path.
	Horizon int
	Model   Model
}

// DefaultConfig returns a 40 step linear predictor.
func DefaultConfig() Config {
	return Config{Horizon: 40, Model: ModelLinear}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	switch c.Model {
	case ModelLinear, ModelQuadratic:
	default:
		return fmt.Errorf("unknown prediction model %q", c.Model)
	}
	return nil
}

// Path is the ordered list of predicted positions. Path[k-1] is the
// position k steps ahead of the current state.
type Path []geom.Point

// Len returns the number of steps.
func (p Path) Len() int { return len(p) }

// At returns the point step steps ahead (1-based).
func (p Path) At(step int) (geom.Point, bool) {
	if step < 1 || step > len(p) {
		return geom.Point{}, false
	}
	return p[step-1], true
}

// Predictor computes paths. It holds no per-track state.
type Predictor struct {
	cfg Config
}

// New validates cfg and returns a Predictor.
func New(cfg Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Predictor{cfg: cfg}, nil
}

// Horizon returns the path length.
func (p *Predictor) Horizon() int { return p.cfg.Horizon }

// Predict returns Horizon future positions spaced dt apart. The state is
// not modified and the result depends only on its arguments. A
// non-positive dt yields a path that holds the current position.
func (p *Predictor) Predict(s estimator.State, dt float64) Path {
	origin := s.Position()
	vel := s.Velocity()
	var acc geom.Point
	if p.cfg.Model == ModelQuadratic {
		acc = s.Accel
	}
	if dt < 0 {
		dt = 0
	}

	path := make(Path, p.cfg.Horizon)
	for k := 1; k <= p.cfg.Horizon; k++ {
		t := float64(k) * dt
		path[k-1] = origin.Add(vel.Mul(t)).Add(acc.Mul(0.5 * t * t))
	}
	return path
}

// PredictAll returns a path for every live track in the snapshot, keyed by
// track id. Retired tracks are absent from the snapshot and get none.
func (p *Predictor) PredictAll(snap tracking.Snapshot, dt float64) map[int64]Path {
	out := make(map[int64]Path, snap.Len())
	for id, t := range snap.Tracks {
		out[id] = p.Predict(t.State, dt)
	}
	return out
}
