package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/pipeline"
)

// Event kinds written to safety_events.
const (
	KindDangerOnset = "danger_onset"
	KindDangerClear = "danger_clear"
	KindFreeze      = "freeze"
	KindMove        = "move"
)

// SafetyEvent is one row of safety_events.
type SafetyEvent struct {
	RunID      string
	Frame      uint64
	RecordedAt time.Time
	Kind       string
	Mode       string
	TrackID    sql.NullInt64
	Step       sql.NullInt64
	LeadTime   sql.NullFloat64
	Severity   sql.NullFloat64
}

// Run is one row of runs.
type Run struct {
	RunID     string
	StartedAt time.Time
	EndedAt   sql.NullTime
	Source    string
	Config    string
	Frames    int64
	Overruns  int64
}

// Recorder is a pipeline.FrameSink that writes transitions to the audit
// log from a background goroutine. ObserveFrame never blocks the frame
// loop: when the queue is full the event is dropped and counted.
type Recorder struct {
	db    *DB
	runID string
	queue chan SafetyEvent
	done  chan struct{}

	// Owned by the frame loop.
	wasDanger bool
	frames    uint64
	overruns  uint64

	dropped atomic.Int64
	once    sync.Once
}

// NewRecorder inserts a run row and starts the writer goroutine.
func NewRecorder(db *DB, source, configJSON string) (*Recorder, error) {
	runID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (run_id, started_at, source, config_json) VALUES (?, ?, ?, ?)`,
		runID, formatTime(time.Now()), source, configJSON)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	r := &Recorder{
		db:    db,
		runID: runID,
		queue: make(chan SafetyEvent, 256),
		done:  make(chan struct{}),
	}
	go r.writer()
	monitoring.Logf("audit log: run %s recording to %s", runID, db.Path())
	return r, nil
}

// RunID returns the uuid of the current run.
func (r *Recorder) RunID() string { return r.runID }

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// ObserveFrame implements pipeline.FrameSink.
func (r *Recorder) ObserveFrame(fr *pipeline.FrameResult) {
	r.frames++
	if fr.Overrun {
		r.overruns++
	}
	ts := fr.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	base := SafetyEvent{RunID: r.runID, Frame: fr.Frame, RecordedAt: ts, Mode: fr.Actuator.Mode.String()}

	if fr.Verdict.Danger && !r.wasDanger {
		ev := base
		ev.Kind = KindDangerOnset
		ev.TrackID = sql.NullInt64{Int64: fr.Verdict.ThreatTrackID, Valid: true}
		ev.Step = sql.NullInt64{Int64: int64(fr.Verdict.Step), Valid: true}
		ev.LeadTime = sql.NullFloat64{Float64: fr.Verdict.LeadTime, Valid: true}
		if len(fr.Verdict.Events) > 0 {
			ev.Severity = sql.NullFloat64{Float64: fr.Verdict.Events[0].Severity, Valid: true}
		}
		r.enqueue(ev)
	} else if !fr.Verdict.Danger && r.wasDanger {
		ev := base
		ev.Kind = KindDangerClear
		r.enqueue(ev)
	}
	r.wasDanger = fr.Verdict.Danger

	if fr.Actuator.Changed {
		ev := base
		ev.Kind = KindMove
		if fr.Actuator.Mode == actuator.ModeFrozen {
			ev.Kind = KindFreeze
		}
		r.enqueue(ev)
	}
}

func (r *Recorder) enqueue(ev SafetyEvent) {
	select {
	case r.queue <- ev:
	default:
		if r.dropped.Add(1) == 1 {
			monitoring.Logf("audit log: queue full, dropping events")
		}
	}
}

func (r *Recorder) writer() {
	defer close(r.done)
	for ev := range r.queue {
		if err := r.insert(ev); err != nil {
			monitoring.Logf("audit log: %v", err)
		}
	}
}

func (r *Recorder) insert(ev SafetyEvent) error {
	_, err := r.db.Exec(`INSERT INTO safety_events
		(run_id, frame, recorded_at, kind, mode, track_id, step, lead_time, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, int64(ev.Frame), formatTime(ev.RecordedAt), ev.Kind, ev.Mode,
		ev.TrackID, ev.Step, ev.LeadTime, ev.Severity)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close stops accepting events, waits for queued ones to be written (or
// ctx to expire) and closes the run row. It must be called after the
// frame loop has stopped.
func (r *Recorder) Close(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.queue)
		select {
		case <-r.done:
		case <-ctx.Done():
			err = fmt.Errorf("audit log flush: %w", ctx.Err())
			return
		}
		_, execErr := r.db.ExecContext(ctx, `UPDATE runs SET ended_at = ?, frames = ?, overruns = ? WHERE run_id = ?`,
			formatTime(time.Now()), int64(r.frames), int64(r.overruns), r.runID)
		if execErr != nil {
			err = fmt.Errorf("close run: %w", execErr)
		}
	})
	return err
}

// Events returns the events of a run in frame order.
func (db *DB) Events(ctx context.Context, runID string) ([]SafetyEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, frame, recorded_at, kind, mode, track_id, step, lead_time, severity
		FROM safety_events WHERE run_id = ? ORDER BY frame, event_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []SafetyEvent
	for rows.Next() {
		var ev SafetyEvent
		var frame int64
		var recorded string
		if err := rows.Scan(&ev.RunID, &frame, &recorded, &ev.Kind, &ev.Mode,
			&ev.TrackID, &ev.Step, &ev.LeadTime, &ev.Severity); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Frame = uint64(frame)
		ev.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetRun returns a run row.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	var started string
	var ended sql.NullString
	var source, cfg sql.NullString
	err := db.QueryRowContext(ctx, `SELECT run_id, started_at, ended_at, source, config_json, frames, overruns
		FROM runs WHERE run_id = ?`, runID).Scan(&run.RunID, &started, &ended, &source, &cfg, &run.Frames, &run.Overruns)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		t, perr := time.Parse(time.RFC3339Nano, ended.String)
		run.EndedAt = sql.NullTime{Time: t, Valid: perr == nil}
	}
	run.Source = source.String
	run.Config = cfg.String
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ pipeline.FrameSink = (*Recorder)(nil)
