// Package config loads the static safety configuration. It is read once at
// startup; nothing in it changes while the pipeline runs.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/precog/internal/estimator"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/predict"
	"github.com/banshee-data/precog/internal/tracking"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/precog.defaults.json"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Frame time sources.
const (
	DTMeasured = "measured"
	DTFixed    = "fixed"
)

// Time units for velocities and lead times.
const (
	UnitFrame  = "frame"
	UnitSecond = "second"
)

// Zone shapes.
const (
	ShapeCircle = "circle"
	ShapeRect   = "rect"
)

// ZoneConfig describes the protected zone in image coordinates.
type ZoneConfig struct {
	Shape   *string  `json:"shape,omitempty"`
	CenterX *float64 `json:"center_x,omitempty"`
	CenterY *float64 `json:"center_y,omitempty"`
	Radius  *float64 `json:"radius,omitempty"`
	Width   *float64 `json:"width,omitempty"`
	Height  *float64 `json:"height,omitempty"`
}

// SafetyConfig is the root configuration. Omitted fields fall back to the
// defaults returned by the Get* accessors, so partial files are safe.
type SafetyConfig struct {
	// Track manager
	GatingDistance *float64 `json:"gating_distance,omitempty"`
	MissThreshold  *int     `json:"miss_threshold,omitempty"`
	Association    *string  `json:"association,omitempty"`

	// State estimator
	ProcessNoisePos   *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel   *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`
	InitialCovariance *float64 `json:"initial_covariance,omitempty"`

	// Trajectory predictor
	Horizon         *int     `json:"horizon,omitempty"`
	PredictionModel *string  `json:"prediction_model,omitempty"`
	AccelHistory    *int     `json:"accel_history,omitempty"`
	MaxAccel        *float64 `json:"max_accel,omitempty"`

	// Frame timing
	FrameDT       *string `json:"frame_dt,omitempty"` // duration string like "33ms"
	DTSource      *string `json:"dt_source,omitempty"`
	MaxFrameDT    *string `json:"max_frame_dt,omitempty"`
	TimeUnit      *string `json:"time_unit,omitempty"`
	FrameDeadline *string `json:"frame_deadline,omitempty"`

	Zone           *ZoneConfig `json:"zone,omitempty"`
	DebounceFrames *int        `json:"debounce_frames,omitempty"`
}

// LoadConfig reads and validates a JSON configuration file. The path must
// end in .json and the file must be under 1MB.
func LoadConfig(path string) (*SafetyConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates JSON configuration. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func Parse(data []byte) (*SafetyConfig, error) {
	cfg := &SafetyConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse JSON: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *SafetyConfig {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every field, including those left at their defaults.
func (c *SafetyConfig) Validate() error {
	if err := c.TrackingConfig().Validate(); err != nil {
		return invalid("%v", err)
	}
	if err := c.EstimatorConfig().Validate(); err != nil {
		return invalid("%v", err)
	}
	if err := c.PredictConfig().Validate(); err != nil {
		return invalid("%v", err)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"frame_dt", c.FrameDT},
		{"max_frame_dt", c.MaxFrameDT},
		{"frame_deadline", c.FrameDeadline},
	}
	for _, d := range durations {
		if d.v == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return invalid("%s %q: %v", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return invalid("%s must be positive, got %s", d.name, *d.v)
		}
	}
	if c.GetMaxFrameDT() < c.GetFrameDT() {
		return invalid("max_frame_dt %v is shorter than frame_dt %v", c.GetMaxFrameDT(), c.GetFrameDT())
	}

	switch c.GetDTSource() {
	case DTMeasured, DTFixed:
	default:
		return invalid("unknown dt_source %q", c.GetDTSource())
	}
	switch c.GetTimeUnit() {
	case UnitFrame, UnitSecond:
	default:
		return invalid("unknown time_unit %q", c.GetTimeUnit())
	}
	if c.GetDebounceFrames() < 1 {
		return invalid("debounce_frames must be at least 1, got %d", c.GetDebounceFrames())
	}
	if _, err := c.BuildZone(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// TrackingConfig returns the track manager tuning.
func (c *SafetyConfig) TrackingConfig() tracking.Config {
	return tracking.Config{
		GatingDistance: c.GetGatingDistance(),
		MissThreshold:  c.GetMissThreshold(),
		Association:    tracking.AssociationMode(c.GetAssociation()),
	}
}

// EstimatorConfig returns the filter tuning.
func (c *SafetyConfig) EstimatorConfig() estimator.Config {
	return estimator.Config{
		ProcessNoisePos:   c.GetProcessNoisePos(),
		ProcessNoiseVel:   c.GetProcessNoiseVel(),
		MeasurementNoise:  c.GetMeasurementNoise(),
		InitialCovariance: c.GetInitialCovariance(),
		AccelHistory:      c.GetAccelHistory(),
		MaxAccel:          c.GetMaxAccel(),
	}
}

// PredictConfig returns the predictor tuning.
func (c *SafetyConfig) PredictConfig() predict.Config {
	return predict.Config{
		Horizon: c.GetHorizon(),
		Model:   predict.Model(c.GetPredictionModel()),
	}
}

// BuildZone constructs the protected zone.
func (c *SafetyConfig) BuildZone() (geom.Zone, error) {
	z := c.Zone
	if z == nil {
		z = &ZoneConfig{}
	}
	center := geom.Pt(getFloat(z.CenterX, 320), getFloat(z.CenterY, 240))
	switch shape := getString(z.Shape, ShapeCircle); shape {
	case ShapeCircle:
		return geom.NewCircle(center, getFloat(z.Radius, 80))
	case ShapeRect:
		return geom.NewRect(center, getFloat(z.Width, 160), getFloat(z.Height, 160))
	default:
		return nil, fmt.Errorf("unknown zone shape %q", shape)
	}
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetGatingDistance returns gating_distance in pixels.
func (c *SafetyConfig) GetGatingDistance() float64 { return getFloat(c.GatingDistance, 80) }

// GetMissThreshold returns miss_threshold.
func (c *SafetyConfig) GetMissThreshold() int { return getInt(c.MissThreshold, 5) }

// GetAssociation returns the association mode.
func (c *SafetyConfig) GetAssociation() string {
	return getString(c.Association, string(tracking.AssociateGreedy))
}

func (c *SafetyConfig) GetProcessNoisePos() float64 { return getFloat(c.ProcessNoisePos, 1.0) }
func (c *SafetyConfig) GetProcessNoiseVel() float64 { return getFloat(c.ProcessNoiseVel, 1.0) }
func (c *SafetyConfig) GetMeasurementNoise() float64 {
	return getFloat(c.MeasurementNoise, 10.0)
}
func (c *SafetyConfig) GetInitialCovariance() float64 {
	return getFloat(c.InitialCovariance, 500)
}

// GetHorizon returns the prediction horizon in steps.
func (c *SafetyConfig) GetHorizon() int { return getInt(c.Horizon, 40) }

// GetPredictionModel returns "linear" or "quadratic".
func (c *SafetyConfig) GetPredictionModel() string {
	return getString(c.PredictionModel, string(predict.ModelLinear))
}

func (c *SafetyConfig) GetAccelHistory() int { return getInt(c.AccelHistory, 8) }
func (c *SafetyConfig) GetMaxAccel() float64 { return getFloat(c.MaxAccel, 2.0) }

// GetFrameDT returns the nominal frame period.
func (c *SafetyConfig) GetFrameDT() time.Duration {
	return getDuration(c.FrameDT, 33*time.Millisecond)
}

// GetDTSource returns "measured" or "fixed".
func (c *SafetyConfig) GetDTSource() string { return getString(c.DTSource, DTMeasured) }

// GetMaxFrameDT returns the upper clamp for a measured frame period.
func (c *SafetyConfig) GetMaxFrameDT() time.Duration {
	return getDuration(c.MaxFrameDT, 250*time.Millisecond)
}

// GetTimeUnit returns "frame" or "second".
func (c *SafetyConfig) GetTimeUnit() string { return getString(c.TimeUnit, UnitFrame) }

// GetFrameDeadline returns the per-frame processing budget.
func (c *SafetyConfig) GetFrameDeadline() time.Duration {
	return getDuration(c.FrameDeadline, 30*time.Millisecond)
}

// GetDebounceFrames returns the clear frames needed to leave FROZEN.
func (c *SafetyConfig) GetDebounceFrames() int { return getInt(c.DebounceFrames, 3) }
