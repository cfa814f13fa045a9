package safety

import (
	"errors"
	"sort"

	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/predict"
	"github.com/banshee-data/precog/internal/tracking"
)

// NoStep is the Step of a verdict without a threat.
const NoStep = -1

// Event describes one track whose path enters the zone.
type Event struct {
	TrackID int64 `json:"track_id"`
	// Step is the first step inside the zone; 0 means already inside.
	Step int `json:"step"`
	// ImpactPoint is the position at Step.
	ImpactPoint geom.Point `json:"impact_point"`
	// Severity is the penetration depth at ImpactPoint in [0, 1].
	Severity float64 `json:"severity"`
	// LeadTime is Step × dt in the frame's time unit.
	LeadTime float64 `json:"lead_time"`
}

// Verdict is the aggregate danger signal for one frame.
type Verdict struct {
	Danger bool `json:"danger"`
	// ThreatTrackID and Step describe the most imminent threat. They are
	// 0 and NoStep when Danger is false.
	ThreatTrackID int64   `json:"threat_track_id"`
	Step          int     `json:"step"`
	LeadTime      float64 `json:"lead_time"`
	// Events lists every threatening track, soonest first, ties by id.
	Events []Event `json:"events"`
}

// Clear returns the verdict of a frame with no threat.
func Clear() Verdict {
	return Verdict{Step: NoStep}
}

// Evaluator holds the protected zone.
type Evaluator struct {
	zone geom.Zone
}

// NewEvaluator returns an Evaluator for zone.
func NewEvaluator(zone geom.Zone) (*Evaluator, error) {
	if zone == nil {
		return nil, errors.New("safety: zone is required")
	}
	return &Evaluator{zone: zone}, nil
}

// Zone returns the protected zone.
func (e *Evaluator) Zone() geom.Zone { return e.zone }

// Evaluate scans every live track's current position and predicted path in
// order and reports the first step inside the zone. Paths whose id is not
// in the snapshot are ignored.
func (e *Evaluator) Evaluate(snap tracking.Snapshot, paths map[int64]predict.Path, dt float64) Verdict {
	v := Clear()
	for _, id := range snap.IDs() {
		t, _ := snap.Get(id)
		ev, ok := e.firstEntry(id, t.Position(), paths[id])
		if !ok {
			continue
		}
		ev.LeadTime = float64(ev.Step) * dt
		v.Events = append(v.Events, ev)
	}
	if len(v.Events) == 0 {
		return v
	}

	sort.SliceStable(v.Events, func(i, j int) bool {
		a, b := v.Events[i], v.Events[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return a.TrackID < b.TrackID
	})
	lead := v.Events[0]
	v.Danger = true
	v.ThreatTrackID = lead.TrackID
	v.Step = lead.Step
	v.LeadTime = lead.LeadTime
	return v
}

func (e *Evaluator) firstEntry(id int64, current geom.Point, path predict.Path) (Event, bool) {
	if e.zone.Contains(current) {
		return Event{TrackID: id, Step: 0, ImpactPoint: current, Severity: e.zone.Severity(current)}, true
	}
	for i, p := range path {
		if e.zone.Contains(p) {
			return Event{TrackID: id, Step: i + 1, ImpactPoint: p, Severity: e.zone.Severity(p)}, true
		}
	}
	return Event{}, false
}
