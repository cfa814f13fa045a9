package sensor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/timeutil"
)

// Replay reads frames from a JSON-lines stream. Blank lines and lines
// starting with '#' are ignored; malformed lines are skipped and counted.
type Replay struct {
	sc     *bufio.Scanner
	closer io.Closer
	line   int
	seq    uint64
	last   Frame

	// Realtime paces Next by the gap between consecutive timestamps.
	Realtime bool
	Clock    timeutil.Clock

	Skipped int
}

// NewReplay returns a replay over r.
func NewReplay(r io.Reader) *Replay {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Replay{sc: sc, Clock: timeutil.RealClock{}}
}

// OpenReplay opens a replay file. Close releases it.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	r := NewReplay(f)
	r.closer = f
	return r, nil
}

// Close closes the underlying file, if any.
func (r *Replay) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next frame or io.EOF.
func (r *Replay) Next(ctx context.Context) (Frame, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		f, err := DecodeRecord(line)
		if err != nil {
			r.Skipped++
			monitoring.Logf("replay: line %d: %v", r.line, err)
			continue
		}
		r.seq++
		if f.Seq == 0 {
			f.Seq = r.seq
		}
		if err := r.pace(ctx, f); err != nil {
			return Frame{}, err
		}
		r.last = f
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("replay line %d: %w", r.line+1, err)
	}
	return Frame{}, io.EOF
}

func (r *Replay) pace(ctx context.Context, f Frame) error {
	if !r.Realtime || r.last.Timestamp.IsZero() || f.Timestamp.IsZero() {
		return ctx.Err()
	}
	gap := f.Timestamp.Sub(r.last.Timestamp)
	if gap <= 0 {
		return ctx.Err()
	}
	return waitFor(ctx, r.Clock.After(gap))
}
