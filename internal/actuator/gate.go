package actuator

import (
	"fmt"
	"sync"

	"github.com/banshee-data/precog/internal/safety"
)

// Mode is the commanded actuator mode.
type Mode int

const (
	ModeMoving Mode = iota
	ModeFrozen
)

func (m Mode) String() string {
	switch m {
	case ModeMoving:
		return "MOVING"
	case ModeFrozen:
		return "FROZEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the mode by name in JSON payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// State is a consistent copy of the gate.
type State struct {
	Mode Mode `json:"mode"`
	// ClearFrames counts consecutive frames without danger.
	ClearFrames int `json:"clear_frames"`
	// SinceTransition counts frames spent in Mode.
	SinceTransition int `json:"since_transition"`
	// Frame is the number of verdicts applied; 0 means none yet.
	Frame uint64 `json:"frame"`
	// Changed is set when the latest verdict switched Mode.
	Changed     bool `json:"changed"`
	Transitions int  `json:"transitions"`
}

// Gate is the MOVING/FROZEN state machine. Update is called by the frame
// loop; Snapshot may be called from any goroutine.
type Gate struct {
	debounce int

	mu    sync.RWMutex
	state State
}

// NewGate returns a gate in MOVING that needs debounce consecutive clear
// frames to leave FROZEN.
func NewGate(debounce int) (*Gate, error) {
	if debounce < 1 {
		return nil, fmt.Errorf("debounce_frames must be at least 1, got %d", debounce)
	}
	return &Gate{debounce: debounce, state: State{Mode: ModeMoving}}, nil
}

// Update applies one frame's verdict and returns the resulting state.
func (g *Gate) Update(v safety.Verdict) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := &g.state
	s.Frame++
	s.Changed = false

	if v.Danger {
		s.ClearFrames = 0
		if s.Mode != ModeFrozen {
			g.switchTo(ModeFrozen)
			return *s
		}
	} else {
		s.ClearFrames++
		if s.Mode == ModeFrozen && s.ClearFrames >= g.debounce {
			g.switchTo(ModeMoving)
			return *s
		}
	}
	s.SinceTransition++
	return *s
}

func (g *Gate) switchTo(m Mode) {
	g.state.Mode = m
	g.state.SinceTransition = 0
	g.state.Changed = true
	g.state.Transitions++
}

// Snapshot returns the current state.
func (g *Gate) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}
