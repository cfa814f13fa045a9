package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/sensor"
)

// Source kinds accepted by --source.
const (
	sourceSynthetic = "synthetic"
	sourceReplay    = "replay"
	sourceUDP       = "udp"
)

type sourceOptions struct {
	kind      string
	replay    string
	udpListen string
	udpRcvBuf int
	frames    int
	realtime  bool
	seed      int64
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openSource builds the observation source selected on the command line.
// The returned closer releases any file or socket it holds.
func openSource(opts sourceOptions, cfg *config.SafetyConfig) (sensor.Source, io.Closer, error) {
	switch opts.kind {
	case sourceSynthetic:
		if opts.frames <= 0 {
			return nil, nil, fmt.Errorf("synthetic source needs a positive frame count, got %d", opts.frames)
		}
		s := sensor.NewSynthetic(sensor.DemoScene(), opts.frames, cfg.GetFrameDT(), time.Now(), opts.seed)
		s.Realtime = opts.realtime
		s.Noise = 1.0
		return s, nopCloser{}, nil
	case sourceReplay:
		if opts.replay == "" {
			return nil, nil, fmt.Errorf("replay source needs --replay")
		}
		r, err := sensor.OpenReplay(opts.replay)
		if err != nil {
			return nil, nil, err
		}
		r.Realtime = opts.realtime
		return r, r, nil
	case sourceUDP:
		u, err := sensor.ListenUDP(opts.udpListen, opts.udpRcvBuf)
		if err != nil {
			return nil, nil, err
		}
		monitoring.Logf("listening for observation datagrams on %s", u.LocalAddr())
		return u, u, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want %s, %s or %s)", opts.kind, sourceSynthetic, sourceReplay, sourceUDP)
	}
}

// commandLog stands in for the actuator port when none is configured. It
// logs each command change instead of writing to hardware.
type commandLog struct {
	mu   sync.Mutex
	last string
}

func (c *commandLog) Write(p []byte) (int, error) {
	cmd := string(p)
	if n := len(cmd); n > 0 && cmd[n-1] == '\n' {
		cmd = cmd[:n-1]
	}
	c.mu.Lock()
	changed := cmd != c.last
	c.last = cmd
	c.mu.Unlock()
	if changed {
		monitoring.Logf("actuator (dry run): %s", cmd)
	}
	return len(p), nil
}

// openActuator opens the serial port, or returns a dry-run writer when
// path is empty.
func openActuator(path string, baud int) (io.WriteCloser, error) {
	if path == "" {
		return struct {
			io.Writer
			io.Closer
		}{&commandLog{}, nopCloser{}}, nil
	}
	port, err := actuator.OpenPort(path, actuator.PortOptions{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return port, nil
}
