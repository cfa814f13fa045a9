package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/precog/internal/geom"
	"gonum.org/v1/gonum/mat"
)

// Config holds the filter noise model. All noise values are variances and
// must be strictly positive.
type Config struct {
	ProcessNoisePos   float64 // position process noise per dt unit (σ²)
	ProcessNoiseVel   float64 // velocity process noise per dt unit (σ²)
	MeasurementNoise  float64 // centroid measurement noise (σ²)
	InitialCovariance float64 // diagonal of P for a newly spawned track
	AccelHistory      int     // velocity samples kept for the acceleration estimate
	MaxAccel          float64 // per-axis acceleration clamp; 0 disables clamping
}

// DefaultConfig mirrors the tuning used for webcam-scale pixel tracking.
func DefaultConfig() Config {
	return Config{
		ProcessNoisePos:   1.0,
		ProcessNoiseVel:   1.0,
		MeasurementNoise:  10.0,
		InitialCovariance: 500.0,
		AccelHistory:      8,
		MaxAccel:          2.0,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"process_noise_pos", c.ProcessNoisePos},
		{"process_noise_vel", c.ProcessNoiseVel},
		{"measurement_noise", c.MeasurementNoise},
		{"initial_covariance", c.InitialCovariance},
	}
	for _, ch := range checks {
		if math.IsNaN(ch.v) || math.IsInf(ch.v, 0) || ch.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", ch.name, ch.v)
		}
	}
	if c.AccelHistory < 0 {
		return fmt.Errorf("accel_history must be non-negative, got %d", c.AccelHistory)
	}
	if c.MaxAccel < 0 {
		return fmt.Errorf("max_accel must be non-negative, got %v", c.MaxAccel)
	}
	return nil
}

// Filter applies the constant-velocity model to track states. It carries
// only immutable configuration, so one Filter serves every track.
type Filter struct {
	cfg Config
	h   *mat.Dense    // 2x4 measurement matrix
	r   *mat.SymDense // 2x2 measurement noise
}

// New validates cfg and returns a Filter.
func New(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := mat.NewDense(2, stateDim, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r := mat.NewSymDense(2, []float64{
		cfg.MeasurementNoise, 0,
		0, cfg.MeasurementNoise,
	})
	return &Filter{cfg: cfg, h: h, r: r}, nil
}

// Init spawns a state at the observed position with zero velocity and the
// configured initial uncertainty.
func (f *Filter) Init(z geom.Point) State {
	s := State{Mean: [stateDim]float64{z.X, z.Y, 0, 0}}
	s.Cov = f.initialCov()
	return s
}

func (f *Filter) initialCov() *mat.SymDense {
	p := mat.NewSymDense(stateDim, nil)
	for i := 0; i < stateDim; i++ {
		p.SetSym(i, i, f.cfg.InitialCovariance)
	}
	return p
}

// Predict advances s by dt: position += velocity·dt, velocity unchanged,
// P = F·P·Fᵀ + Q with Q scaled by dt. A non-positive dt leaves s untouched.
func (f *Filter) Predict(s *State, dt float64) {
	if dt <= 0 {
		return
	}

	s.Mean[0] += s.Mean[2] * dt
	s.Mean[1] += s.Mean[3] * dt

	F := mat.NewDense(stateDim, stateDim, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	var fp, fpft mat.Dense
	fp.Mul(F, s.Cov)
	fpft.Mul(&fp, F.T())

	q := [stateDim]float64{
		f.cfg.ProcessNoisePos * dt,
		f.cfg.ProcessNoisePos * dt,
		f.cfg.ProcessNoiseVel * dt,
		f.cfg.ProcessNoiseVel * dt,
	}
	for i := 0; i < stateDim; i++ {
		fpft.Set(i, i, fpft.At(i, i)+q[i])
	}
	s.Cov = symmetrize(&fpft)

	if !s.isFinite() {
		f.repair(s)
	}
}

// Correct fuses the observed centroid z into s (linear MMSE update).
func (f *Filter) Correct(s *State, z geom.Point) {
	if err := f.correct(s, z); err != nil || !s.isFinite() {
		// Restart from the observation itself.
		f.repair(s)
		s.Mean[0], s.Mean[1] = z.X, z.Y
	}
}

var errSingularInnovation = errors.New("innovation covariance is not positive definite")

func (f *Filter) correct(s *State, z geom.Point) error {
	// S = H·P·Hᵀ + R
	var hp mat.Dense
	hp.Mul(f.h, s.Cov)
	var hpht mat.Dense
	hpht.Mul(&hp, f.h.T())
	sCov := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			v := (hpht.At(i, j)+hpht.At(j, i))/2 + f.r.At(i, j)
			sCov.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sCov); !ok {
		return errSingularInnovation
	}

	// K = P·Hᵀ·S⁻¹, solved as S·Kᵀ = H·P (P symmetric).
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}
	k := kt.T()

	innovation := mat.NewVecDense(2, []float64{z.X - s.Mean[0], z.Y - s.Mean[1]})
	var dx mat.VecDense
	dx.MulVec(k, innovation)
	for i := 0; i < stateDim; i++ {
		s.Mean[i] += dx.AtVec(i)
	}

	// Joseph form keeps P symmetric positive semi-definite:
	// P = (I-KH)·P·(I-KH)ᵀ + K·R·Kᵀ
	var kh mat.Dense
	kh.Mul(k, f.h)
	ikh := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)

	var a, apat mat.Dense
	a.Mul(ikh, s.Cov)
	apat.Mul(&a, ikh.T())

	var kr, krkt mat.Dense
	kr.Mul(k, f.r)
	krkt.Mul(&kr, k.T())
	apat.Add(&apat, &krkt)

	s.Cov = symmetrize(&apat)
	return nil
}

// Record feeds the post-frame velocity into the acceleration estimate. It
// is called once per frame per live track, after Predict and Correct.
func (f *Filter) Record(s *State, dt float64) {
	s.recordVelocity(dt, f.cfg.AccelHistory, f.cfg.MaxAccel)
}

// repair restores a usable state after numerical failure: velocity and
// acceleration are dropped and the covariance is reset. A non-finite
// position is zeroed.
func (f *Filter) repair(s *State) {
	for i := 0; i < 2; i++ {
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) {
			s.Mean[i] = 0
		}
	}
	s.Mean[2], s.Mean[3] = 0, 0
	s.Accel = geom.Point{}
	s.history = s.history[:0]
	s.Cov = f.initialCov()
}

func symmetrize(m *mat.Dense) *mat.SymDense {
	r, _ := m.Dims()
	out := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}
