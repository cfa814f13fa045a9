package pipeline

import (
	"time"

	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/timeutil"
)

// frameTimer turns frame timestamps into the dt handed to the filter and
// predictor.
type frameTimer struct {
	source  string
	unit    string
	nominal time.Duration
	max     time.Duration
	clock   timeutil.Clock

	last    time.Time
	started bool
}

func newFrameTimer(cfg *config.SafetyConfig, clock timeutil.Clock) *frameTimer {
	return &frameTimer{
		source:  cfg.GetDTSource(),
		unit:    cfg.GetTimeUnit(),
		nominal: cfg.GetFrameDT(),
		max:     cfg.GetMaxFrameDT(),
		clock:   clock,
	}
}

// next returns the elapsed time since the previous frame, both raw and
// expressed in the configured unit. The first frame, and any frame whose
// timestamp does not advance, uses the nominal period. Gaps longer than
// max are clamped so a stalled sensor does not fling tracks across the
// image.
func (t *frameTimer) next(ts time.Time) (float64, time.Duration) {
	raw := t.nominal
	if t.source == config.DTMeasured {
		now := ts
		if now.IsZero() {
			now = t.clock.Now()
		}
		if t.started {
			if gap := now.Sub(t.last); gap > 0 {
				raw = gap
			}
		}
		t.last = now
		t.started = true
	}
	if raw > t.max {
		raw = t.max
	}
	return t.convert(raw), raw
}

// reset forgets the previous timestamp so the next frame gets the nominal dt.
func (t *frameTimer) reset() { t.started = false }

func (t *frameTimer) convert(d time.Duration) float64 {
	if t.unit == config.UnitSecond {
		return d.Seconds()
	}
	return float64(d) / float64(t.nominal)
}
