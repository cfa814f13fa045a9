// Package sensor provides the observation sources feeding the pipeline:
// JSON-lines replay files, UDP datagrams and a scripted synthetic scene.
//
// All sources share one wire record: a JSON object with an optional "seq",
// an optional "ts" (Unix seconds, fractional) and an "objects" array of
// {x, y, w, h} centroids and box sizes in pixels.
package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/precog/internal/geom"
	"github.com/banshee-data/precog/internal/tracking"
)

// Frame is one sensor reading.
type Frame struct {
	Seq uint64
	// Timestamp is the capture time, or zero if the source has none.
	Timestamp    time.Time
	Observations []tracking.Observation
}

// Source yields frames in order. Next blocks until a frame is available and
// returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Object is the wire form of one observation.
type Object struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// Record is the wire form of one frame.
type Record struct {
	Seq     *uint64  `json:"seq,omitempty"`
	TS      *float64 `json:"ts,omitempty"`
	Objects []Object `json:"objects"`
}

// DecodeRecord parses one wire record.
func DecodeRecord(b []byte) (Frame, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return r.Frame(), nil
}

// Frame converts the record. A missing seq is left as 0 for the source to
// fill in.
func (r Record) Frame() Frame {
	f := Frame{Observations: make([]tracking.Observation, 0, len(r.Objects))}
	if r.Seq != nil {
		f.Seq = *r.Seq
	}
	if r.TS != nil && !math.IsNaN(*r.TS) && !math.IsInf(*r.TS, 0) {
		sec, frac := math.Modf(*r.TS)
		f.Timestamp = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	}
	for _, o := range r.Objects {
		f.Observations = append(f.Observations, tracking.Observation{
			Centroid: geom.Pt(o.X, o.Y),
			Width:    o.W,
			Height:   o.H,
		})
	}
	return f
}

// EncodeRecord returns the wire form of f.
func EncodeRecord(f Frame) ([]byte, error) {
	seq := f.Seq
	r := Record{Seq: &seq, Objects: make([]Object, 0, len(f.Observations))}
	if !f.Timestamp.IsZero() {
		ts := float64(f.Timestamp.UnixNano()) / 1e9
		r.TS = &ts
	}
	for _, o := range f.Observations {
		r.Objects = append(r.Objects, Object{X: o.Centroid.X, Y: o.Centroid.Y, W: o.Width, H: o.Height})
	}
	return json.Marshal(r)
}

// waitFor blocks until after fires or ctx is done.
func waitFor(ctx context.Context, after <-chan time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after:
		return nil
	}
}
