// Package api serves the read-only status endpoints used by actuator
// collaborators and for visual debugging of the tracker.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/db"
	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/pipeline"
	"github.com/banshee-data/precog/internal/safety"
	"github.com/banshee-data/precog/internal/sensor"
	"github.com/banshee-data/precog/internal/version"
)

// ANSI escape codes used by LoggingMiddleware.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// FrameSource is the read side of the pipeline.
type FrameSource interface {
	Last() *pipeline.FrameResult
	Stats() pipeline.Stats
	Zone() geom.Zone
	Horizon() int
}

// DriverStatser reports actuator driver counters.
type DriverStatser interface {
	Stats() actuator.DriverStats
}

// UDPStatser reports datagram counters of a UDP observation source.
type UDPStatser interface {
	Stats() sensor.UDPStats
}

// AuditRecorder is the run currently written to the audit log.
type AuditRecorder interface {
	RunID() string
	Dropped() int64
}

// Server answers the status, frame and debug routes from the latest
// pipeline result. Optional collaborators are attached with the With*
// methods before ServeMux is called.
type Server struct {
	frames   FrameSource
	gate     actuator.StateReader
	driver   DriverStatser
	udp      UDPStatser
	cfg      *config.SafetyConfig
	audit    *db.DB
	recorder AuditRecorder
	started  time.Time
}

// NewServer returns a server over frames and gate. Both are required.
func NewServer(frames FrameSource, gate actuator.StateReader) *Server {
	return &Server{frames: frames, gate: gate, started: time.Now()}
}

// WithDriver adds driver counters to /api/status.
func (s *Server) WithDriver(d DriverStatser) *Server {
	s.driver = d
	return s
}

// WithUDPSource adds datagram counters to /api/status.
func (s *Server) WithUDPSource(u UDPStatser) *Server {
	s.udp = u
	return s
}

// WithConfig exposes the effective configuration on /api/config.
func (s *Server) WithConfig(cfg *config.SafetyConfig) *Server {
	s.cfg = cfg
	return s
}

// WithAuditDB mounts the audit log console under /debug/tailsql/.
func (s *Server) WithAuditDB(d *db.DB) *Server {
	s.audit = d
	return s
}

// WithRecorder adds the audit run to /api/status and, together with
// WithAuditDB, serves its events on /api/run.
func (s *Server) WithRecorder(r AuditRecorder) *Server {
	s.recorder = r
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the routes of the status server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/frame", s.showFrame)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/debug/scene", s.handleScene)
	if s.audit != nil {
		s.audit.AttachAdminRoutes(mux)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("api: failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// AuditStatus is the audit section of GET /api/status.
type AuditStatus struct {
	RunID   string `json:"run_id"`
	Dropped int64  `json:"dropped"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Mode     actuator.Mode         `json:"mode"`
	Command  actuator.Command      `json:"command"`
	Actuator actuator.State        `json:"actuator"`
	Horizon  int                   `json:"horizon"`
	Pipeline pipeline.Stats        `json:"pipeline"`
	Driver   *actuator.DriverStats `json:"driver,omitempty"`
	UDP      *sensor.UDPStats      `json:"udp,omitempty"`
	Audit    *AuditStatus          `json:"audit,omitempty"`
	Uptime   float64               `json:"uptime_seconds"`
	Build    version.Info          `json:"build"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := s.gate.Snapshot()
	resp := StatusResponse{
		Mode:     st.Mode,
		Command:  actuator.CommandFor(st),
		Actuator: st,
		Horizon:  s.frames.Horizon(),
		Pipeline: s.frames.Stats(),
		Uptime:   time.Since(s.started).Seconds(),
		Build:    version.Get(),
	}
	if s.driver != nil {
		ds := s.driver.Stats()
		resp.Driver = &ds
	}
	if s.udp != nil {
		us := s.udp.Stats()
		resp.UDP = &us
	}
	if s.recorder != nil {
		resp.Audit = &AuditStatus{RunID: s.recorder.RunID(), Dropped: s.recorder.Dropped()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// TrackView is one track as reported by GET /api/frame. W and H are the
// size of the last matched detection box.
type TrackView struct {
	ID     int64   `json:"id"`
	Status string  `json:"status"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Speed  float64 `json:"speed"`
	W      float64 `json:"w"`
	H      float64 `json:"h"`
	Age    int     `json:"age"`
	Misses int     `json:"misses"`
	Hits   int     `json:"hits"`
}

// FrameResponse is the body of GET /api/frame.
type FrameResponse struct {
	Frame     uint64                  `json:"frame"`
	Seq       uint64                  `json:"seq"`
	Timestamp time.Time               `json:"timestamp"`
	DT        float64                 `json:"dt"`
	Tracks    []TrackView             `json:"tracks"`
	Paths     map[string][][2]float64 `json:"paths"`
	Verdict   safety.Verdict          `json:"verdict"`
	Mode      actuator.Mode           `json:"mode"`
	ElapsedMs float64                 `json:"elapsed_ms"`
	Overrun   bool                    `json:"overrun"`
}

func frameView(fr *pipeline.FrameResult) FrameResponse {
	resp := FrameResponse{
		Frame:     fr.Frame,
		Seq:       fr.Seq,
		Timestamp: fr.Timestamp,
		DT:        fr.DT,
		Tracks:    make([]TrackView, 0, fr.Tracks.Len()),
		Paths:     make(map[string][][2]float64, len(fr.Paths)),
		Verdict:   fr.Verdict,
		Mode:      fr.Actuator.Mode,
		ElapsedMs: float64(fr.Elapsed.Nanoseconds()) / 1e6,
		Overrun:   fr.Overrun,
	}
	for _, id := range fr.Tracks.IDs() {
		t, _ := fr.Tracks.Get(id)
		p, v := t.Position(), t.Velocity()
		resp.Tracks = append(resp.Tracks, TrackView{
			ID: id, Status: t.Status.String(),
			X: p.X, Y: p.Y, VX: v.X, VY: v.Y, Speed: t.State.Speed(),
			W: t.LastBox.Width, H: t.LastBox.Height,
			Age: t.Age, Misses: t.Misses, Hits: t.Hits,
		})
		if path, ok := fr.Paths[id]; ok {
			pts := make([][2]float64, len(path))
			for i, pt := range path {
				pts[i] = [2]float64{pt.X, pt.Y}
			}
			resp.Paths[strconv.FormatInt(id, 10)] = pts
		}
	}
	return resp
}

func (s *Server) showFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	fr := s.frames.Last()
	if fr == nil {
		writeJSONError(w, http.StatusNotFound, "no frame processed yet")
		return
	}
	writeJSON(w, http.StatusOK, frameView(fr))
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg == nil {
		writeJSONError(w, http.StatusNotFound, "configuration not exposed")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg)
}

// EventView is one audit log row as reported by GET /api/run.
type EventView struct {
	Frame    uint64    `json:"frame"`
	At       time.Time `json:"recorded_at"`
	Kind     string    `json:"kind"`
	Mode     string    `json:"mode"`
	TrackID  *int64    `json:"track_id,omitempty"`
	Step     *int64    `json:"step,omitempty"`
	LeadTime *float64  `json:"lead_time,omitempty"`
}

// RunResponse is the body of GET /api/run.
type RunResponse struct {
	RunID     string      `json:"run_id"`
	Source    string      `json:"source"`
	StartedAt time.Time   `json:"started_at"`
	Dropped   int64       `json:"dropped"`
	Events    []EventView `json:"events"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.audit == nil || s.recorder == nil {
		writeJSONError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	runID := s.recorder.RunID()
	run, err := s.audit.GetRun(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.audit.Events(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := RunResponse{
		RunID:     run.RunID,
		Source:    run.Source,
		StartedAt: run.StartedAt,
		Dropped:   s.recorder.Dropped(),
		Events:    make([]EventView, 0, len(events)),
	}
	for _, ev := range events {
		v := EventView{Frame: ev.Frame, At: ev.RecordedAt, Kind: ev.Kind, Mode: ev.Mode}
		if ev.TrackID.Valid {
			v.TrackID = &ev.TrackID.Int64
		}
		if ev.Step.Valid {
			v.Step = &ev.Step.Int64
		}
		if ev.LeadTime.Valid {
			v.LeadTime = &ev.LeadTime.Float64
		}
		resp.Events = append(resp.Events, v)
	}
	writeJSON(w, http.StatusOK, resp)
}
