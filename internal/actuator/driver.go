package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/timeutil"
)

// Command is one line of the actuator wire protocol.
type Command string

const (
	CommandFreeze Command = "FREEZE"
	CommandMove   Command = "MOVE"
)

// CommandFor maps a gate state to the command to send. A gate that has not
// evaluated a frame yet commands FREEZE.
func CommandFor(s State) Command {
	if s.Frame == 0 || s.Mode == ModeFrozen {
		return CommandFreeze
	}
	return CommandMove
}

// StateReader is the read side of the Gate.
type StateReader interface {
	Snapshot() State
}

// FailSafe writes a single FREEZE command to w.
func FailSafe(w io.Writer) error {
	return writeCommand(w, CommandFreeze)
}

func writeCommand(w io.Writer, c Command) error {
	if _, err := io.WriteString(w, string(c)+"\n"); err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	return nil
}

// DriverStats counts commands written since Run started.
type DriverStats struct {
	Writes       int     `json:"writes"`
	WriteErrors  int     `json:"write_errors"`
	StaleFreezes int     `json:"stale_freezes"`
	Last         Command `json:"last"`
}

// Driver repeats the gate's current command to the actuator every interval.
// The actuator controller is expected to treat silence as FREEZE.
type Driver struct {
	w        io.Writer
	gate     StateReader
	clock    timeutil.Clock
	interval time.Duration

	// StaleAfter, when positive, forces FREEZE if the gate's frame counter
	// has not advanced for that long (a stalled pipeline).
	StaleAfter time.Duration

	mu    sync.Mutex
	stats DriverStats

	lastFrame   uint64
	lastAdvance time.Time
}

// NewDriver returns a driver writing to w. A nil clock uses the wall clock.
func NewDriver(w io.Writer, gate StateReader, clock timeutil.Clock, interval time.Duration) (*Driver, error) {
	if w == nil || gate == nil {
		return nil, errors.New("actuator: writer and gate are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("actuator: poll interval must be positive, got %v", interval)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Driver{w: w, gate: gate, clock: clock, interval: interval}, nil
}

// Stats returns a copy of the driver counters.
func (d *Driver) Stats() DriverStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Run sends the current command immediately and then once per interval until
// ctx is cancelled, at which point it sends a final FREEZE. Write failures
// are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	d.lastAdvance = d.clock.Now()
	d.tick()
	for {
		select {
		case <-ctx.Done():
			if err := FailSafe(d.w); err != nil {
				monitoring.Logf("actuator: final FREEZE failed: %v", err)
				return err
			}
			d.record(CommandFreeze, nil)
			return nil
		case <-ticker.C():
			d.tick()
		}
	}
}

func (d *Driver) tick() {
	s := d.gate.Snapshot()
	now := d.clock.Now()
	cmd := CommandFor(s)

	if s.Frame != d.lastFrame {
		d.lastFrame = s.Frame
		d.lastAdvance = now
	} else if d.StaleAfter > 0 && s.Frame > 0 && now.Sub(d.lastAdvance) > d.StaleAfter {
		if cmd != CommandFreeze {
			monitoring.Logf("actuator: no frame for %v, forcing FREEZE", now.Sub(d.lastAdvance))
			d.mu.Lock()
			d.stats.StaleFreezes++
			d.mu.Unlock()
		}
		cmd = CommandFreeze
	}

	err := writeCommand(d.w, cmd)
	if err != nil {
		monitoring.Logf("actuator: %v", err)
	}
	d.record(cmd, err)
}

func (d *Driver) record(cmd Command, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.stats.WriteErrors++
		return
	}
	d.stats.Writes++
	d.stats.Last = cmd
}
