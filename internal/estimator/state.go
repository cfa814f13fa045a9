package estimator

import (
	"math"

	"github.com/banshee-data/precog/internal/geom"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dimension of the state vector [x, y, vx, vy].
const stateDim = 4

// State is the filtered motion estimate for one track. The zero value is
// not usable; obtain one from Filter.Init.
type State struct {
	// Mean is [x, y, vx, vy]. Velocity is in pixels per dt unit.
	Mean [stateDim]float64
	// Cov is the 4x4 error covariance of Mean.
	Cov *mat.SymDense
	// Accel is the clamped acceleration estimate (pixels per dt unit²).
	// It stays zero until at least two velocity samples exist.
	Accel geom.Point

	history []velocitySample
}

type velocitySample struct {
	v  geom.Point
	dt float64
}

// Position returns the filtered position.
func (s *State) Position() geom.Point {
	return geom.Pt(s.Mean[0], s.Mean[1])
}

// Velocity returns the filtered velocity.
func (s *State) Velocity() geom.Point {
	return geom.Pt(s.Mean[2], s.Mean[3])
}

// Speed returns the magnitude of the filtered velocity.
func (s *State) Speed() float64 {
	return s.Velocity().Norm()
}

// PositionVariance returns the trace of the position block of Cov.
func (s *State) PositionVariance() float64 {
	if s.Cov == nil {
		return 0
	}
	return s.Cov.At(0, 0) + s.Cov.At(1, 1)
}

// Clone returns a deep copy that shares no memory with s.
func (s *State) Clone() State {
	out := State{
		Mean:  s.Mean,
		Accel: s.Accel,
	}
	if s.Cov != nil {
		out.Cov = mat.NewSymDense(stateDim, nil)
		out.Cov.CopySym(s.Cov)
	}
	if len(s.history) > 0 {
		out.history = append([]velocitySample(nil), s.history...)
	}
	return out
}

// isFinite reports whether the mean and the covariance diagonal are free of
// NaN and ±Inf.
func (s *State) isFinite() bool {
	for _, v := range s.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < stateDim; i++ {
		v := s.Cov.At(i, i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// recordVelocity appends the current velocity to the bounded history and
// refreshes Accel as the mean finite-difference acceleration.
func (s *State) recordVelocity(dt float64, historyLen int, maxAccel float64) {
	if historyLen < 2 {
		s.Accel = geom.Point{}
		return
	}
	s.history = append(s.history, velocitySample{v: s.Velocity(), dt: dt})
	if len(s.history) > historyLen {
		s.history = s.history[len(s.history)-historyLen:]
	}
	if len(s.history) < 2 {
		s.Accel = geom.Point{}
		return
	}

	ax := make([]float64, 0, len(s.history)-1)
	ay := make([]float64, 0, len(s.history)-1)
	for i := 1; i < len(s.history); i++ {
		step := s.history[i].dt
		if step <= 0 {
			continue
		}
		dv := s.history[i].v.Sub(s.history[i-1].v)
		ax = append(ax, dv.X/step)
		ay = append(ay, dv.Y/step)
	}
	if len(ax) == 0 {
		s.Accel = geom.Point{}
		return
	}
	s.Accel = geom.Pt(
		clamp(stat.Mean(ax, nil), maxAccel),
		clamp(stat.Mean(ay, nil), maxAccel),
	)
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return math.Max(-limit, math.Min(limit, v))
}
