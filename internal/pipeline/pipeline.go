package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/predict"
	"github.com/banshee-data/precog/internal/safety"
	"github.com/banshee-data/precog/internal/sensor"
	"github.com/banshee-data/precog/internal/timeutil"
	"github.com/banshee-data/precog/internal/tracking"
)

// FrameResult is everything one pass produced. It is not modified after
// Step returns and may be shared between goroutines.
type FrameResult struct {
	Frame     uint64
	Seq       uint64
	Timestamp time.Time
	// DT is the elapsed time fed to the estimator and predictor, in the
	// configured time unit; RawDT is the same interval after clamping.
	DT    float64
	RawDT time.Duration

	Tracks   tracking.Snapshot
	Paths    map[int64]predict.Path
	Verdict  safety.Verdict
	Actuator actuator.State

	Elapsed time.Duration
	Overrun bool
}

// FrameSink receives every FrameResult synchronously on the frame loop.
// Implementations must return quickly.
type FrameSink interface {
	ObserveFrame(r *FrameResult)
}

// Stats summarises the run so far.
type Stats struct {
	Frames        uint64        `json:"frames"`
	Overruns      uint64        `json:"overruns"`
	MaxElapsed    time.Duration `json:"max_elapsed_ns"`
	TracksCreated int           `json:"tracks_created"`
	TracksRetired int           `json:"tracks_retired"`
	LiveTracks    int           `json:"live_tracks"`
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for frames without timestamps and for
// deadline accounting.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithSink registers a FrameSink. Sinks run in registration order.
func WithSink(s FrameSink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, s) }
}

// Pipeline is the per-process context object holding every stage.
type Pipeline struct {
	tracks    *tracking.Manager
	predictor *predict.Predictor
	evaluator *safety.Evaluator
	gate      *actuator.Gate
	timer     *frameTimer
	clock     timeutil.Clock
	deadline  time.Duration
	sinks     []FrameSink

	frame     uint64
	lastSeq   uint64
	wasDanger bool
	last      atomic.Pointer[FrameResult]
	statsMu   sync.Mutex
	stats     Stats
}

// New builds every stage from cfg. cfg must already be valid; New
// re-validates and returns the first error wrapped in
// config.ErrInvalidConfig.
func New(cfg *config.SafetyConfig, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	filter, err := estimator.New(cfg.EstimatorConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	tracks, err := tracking.NewManager(cfg.TrackingConfig(), filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	predictor, err := predict.New(cfg.PredictConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	zone, err := cfg.BuildZone()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	evaluator, err := safety.NewEvaluator(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	gate, err := actuator.NewGate(cfg.GetDebounceFrames())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	p := &Pipeline{
		tracks:    tracks,
		predictor: predictor,
		evaluator: evaluator,
		gate:      gate,
		clock:     timeutil.RealClock{},
		deadline:  cfg.GetFrameDeadline(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.timer = newFrameTimer(cfg, p.clock)

	diagf("pipeline ready: horizon=%d model=%s association=%s debounce=%d dt_source=%s unit=%s",
		cfg.GetHorizon(), cfg.GetPredictionModel(), cfg.GetAssociation(),
		cfg.GetDebounceFrames(), cfg.GetDTSource(), cfg.GetTimeUnit())
	return p, nil
}

// Gate returns the actuator gate for the driver and status readers.
func (p *Pipeline) Gate() *actuator.Gate { return p.gate }

// Zone returns the protected zone.
func (p *Pipeline) Zone() geom.Zone { return p.evaluator.Zone() }

// Horizon returns the prediction horizon in steps.
func (p *Pipeline) Horizon() int { return p.predictor.Horizon() }

// Last returns the most recent result, or nil before the first frame.
func (p *Pipeline) Last() *FrameResult { return p.last.Load() }

// Stats returns a copy of the run counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Step runs one complete pass over f.
func (p *Pipeline) Step(f sensor.Frame) *FrameResult {
	start := p.clock.Now()
	p.frame++

	// A sensor that restarts numbers its frames from 1 again; tracks from
	// before the restart no longer describe the scene.
	if f.Seq == 1 && p.lastSeq > 1 {
		opsf("frame %d: sensor sequence restarted after seq %d, dropping %d tracks", p.frame, p.lastSeq, p.tracks.Len())
		p.tracks.Reset()
		p.timer.reset()
	}
	p.lastSeq = f.Seq

	dt, raw := p.timer.next(f.Timestamp)
	snap := p.tracks.Update(f.Observations, dt)
	paths := p.predictor.PredictAll(snap, dt)
	verdict := p.evaluator.Evaluate(snap, paths, dt)
	state := p.gate.Update(verdict)

	r := &FrameResult{
		Frame:     p.frame,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		DT:        dt,
		RawDT:     raw,
		Tracks:    snap,
		Paths:     paths,
		Verdict:   verdict,
		Actuator:  state,
	}
	r.Elapsed = p.clock.Since(start)
	r.Overrun = p.deadline > 0 && r.Elapsed > p.deadline

	p.account(r)
	p.logFrame(r)
	p.last.Store(r)
	for _, s := range p.sinks {
		s.ObserveFrame(r)
	}
	return r
}

func (p *Pipeline) account(r *FrameResult) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Frames++
	if r.Overrun {
		p.stats.Overruns++
	}
	if r.Elapsed > p.stats.MaxElapsed {
		p.stats.MaxElapsed = r.Elapsed
	}
	p.stats.TracksCreated = p.tracks.TracksCreated
	p.stats.TracksRetired = p.tracks.TracksRetired
	p.stats.LiveTracks = r.Tracks.Len()
}

func (p *Pipeline) logFrame(r *FrameResult) {
	if r.Overrun {
		opsf("frame %d over deadline: %v > %v", r.Frame, r.Elapsed, p.deadline)
	}
	if r.Actuator.Changed {
		if r.Actuator.Mode == actuator.ModeFrozen {
			diagf("frame %d: FROZEN (track %d enters zone in %d steps, lead %.3f)",
				r.Frame, r.Verdict.ThreatTrackID, r.Verdict.Step, r.Verdict.LeadTime)
		} else {
			diagf("frame %d: MOVING after %d clear frames", r.Frame, r.Actuator.ClearFrames)
		}
	}
	if r.Verdict.Danger != p.wasDanger {
		diagf("frame %d: danger=%v", r.Frame, r.Verdict.Danger)
		p.wasDanger = r.Verdict.Danger
	}
	for _, id := range r.Tracks.Spawned {
		diagf("frame %d: track %d spawned", r.Frame, id)
	}
	for _, id := range r.Tracks.Retired {
		diagf("frame %d: track %d retired", r.Frame, id)
	}
	tracef("frame %d seq=%d dt=%.4f tracks=%d danger=%v mode=%s elapsed=%v",
		r.Frame, r.Seq, r.DT, r.Tracks.Len(), r.Verdict.Danger, r.Actuator.Mode, r.Elapsed)
}

// Run feeds frames from src through Step until the source is exhausted
// (returns nil) or ctx is cancelled (returns ctx.Err()). Cancellation is
// observed between frames only; a pass in progress always completes.
func (p *Pipeline) Run(ctx context.Context, src sensor.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				diagf("source exhausted after %d frames", p.frame)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			opsf("source failed: %v", err)
			return fmt.Errorf("read frame: %w", err)
		}
		p.Step(f)
	}
}
