// Command precog runs the predictive safety pipeline: it tracks objects in
// a stream of detections, predicts their paths and freezes an actuator
// before any of them reaches the protected zone.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/precog/internal/actuator"
	"github.com/banshee-data/precog/internal/api"
	"github.com/banshee-data/precog/internal/config"
	"github.com/banshee-data/precog/internal/db"
	"github.com/banshee-data/precog/internal/monitoring"
	"github.com/banshee-data/precog/internal/pipeline"
	"github.com/banshee-data/precog/internal/sensor"
	"github.com/banshee-data/precog/internal/timeutil"
	"github.com/banshee-data/precog/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to JSON configuration (defaults apply when empty)")
	source     = flag.String("source", sourceSynthetic, "Observation source: synthetic, replay or udp")
	replayFile = flag.String("replay", "", "JSON-lines replay file (with --source=replay)")
	udpListen  = flag.String("udp-listen", ":9400", "UDP listen address (with --source=udp)")
	udpRcvBuf  = flag.Int("udp-rcvbuf", 1<<20, "UDP socket receive buffer in bytes")
	frames     = flag.Int("frames", 300, "Number of synthetic frames to generate")
	realtime   = flag.Bool("realtime", true, "Pace replay and synthetic frames at their recorded rate")
	seed       = flag.Int64("seed", 1, "Random seed for the synthetic scene")

	actuatorPort = flag.String("actuator-port", "", "Serial port of the actuator controller (dry run when empty)")
	actuatorBaud = flag.Int("actuator-baud", 115200, "Actuator serial baud rate")
	pollInterval = flag.Duration("poll-interval", 50*time.Millisecond, "Interval between actuator commands")
	staleAfter   = flag.Duration("stale-after", 500*time.Millisecond, "Force FREEZE when no frame has been evaluated for this long (0 disables)")

	listen  = flag.String("listen", ":8080", "Status server listen address (empty disables)")
	auditDB = flag.String("audit-db", "", "Path to the sqlite safety audit log (disabled when empty)")

	debugLog = flag.Bool("debug", false, "Enable pipeline diagnostic logging")
	traceLog = flag.Bool("trace", false, "Enable per-frame pipeline logging")

	showVersion = flag.Bool("version", false, "Print build information and exit")
)

func loadConfig(path string) (*config.SafetyConfig, error) {
	if path == "" {
		cfg := &config.SafetyConfig{}
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

func configureLogging(ops io.Writer, debug, trace bool) {
	var diag, tr io.Writer
	if debug {
		diag = ops
	}
	if trace {
		tr = ops
	}
	pipeline.SetLogWriters(ops, diag, tr)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	configureLogging(os.Stderr, *debugLog, *traceLog)

	port, err := openActuator(*actuatorPort, *actuatorBaud)
	if err != nil {
		log.Fatalf("failed to open actuator: %v", err)
	}
	defer port.Close()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		if ferr := actuator.FailSafe(port); ferr != nil {
			log.Printf("failed to send FREEZE: %v", ferr)
		}
		log.Fatalf("invalid configuration: %v", err)
	}

	var opts []pipeline.Option
	var recorder *db.Recorder
	var audit *db.DB
	if *auditDB != "" {
		audit, err = db.Open(*auditDB)
		if err != nil {
			_ = actuator.FailSafe(port)
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer audit.Close()
		cfgJSON, _ := json.Marshal(cfg)
		recorder, err = db.NewRecorder(audit, *source, string(cfgJSON))
		if err != nil {
			_ = actuator.FailSafe(port)
			log.Fatalf("failed to start audit run: %v", err)
		}
		opts = append(opts, pipeline.WithSink(recorder))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		_ = actuator.FailSafe(port)
		log.Fatalf("failed to build pipeline: %v", err)
	}

	src, srcCloser, err := openSource(sourceOptions{
		kind:      *source,
		replay:    *replayFile,
		udpListen: *udpListen,
		udpRcvBuf: *udpRcvBuf,
		frames:    *frames,
		realtime:  *realtime,
		seed:      *seed,
	}, cfg)
	if err != nil {
		_ = actuator.FailSafe(port)
		log.Fatalf("failed to open source: %v", err)
	}
	defer srcCloser.Close()

	driver, err := actuator.NewDriver(port, p.Gate(), timeutil.RealClock{}, *pollInterval)
	if err != nil {
		_ = actuator.FailSafe(port)
		log.Fatalf("failed to create actuator driver: %v", err)
	}
	driver.StaleAfter = *staleAfter

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.Run(ctx); err != nil {
			monitoring.Logf("actuator driver stopped: %v", err)
		}
		monitoring.Logf("actuator routine terminated")
	}()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := api.NewServer(p, p.Gate()).WithDriver(driver).WithConfig(cfg)
			if audit != nil {
				srv = srv.WithAuditDB(audit).WithRecorder(recorder)
			}
			if u, ok := src.(*sensor.UDPSource); ok {
				srv = srv.WithUDPSource(u)
			}
			server := &http.Server{
				Addr:    *listen,
				Handler: api.LoggingMiddleware(srv.ServeMux()),
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					monitoring.Logf("status server failed: %v", err)
					stop()
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("status server shutdown error: %v", err)
				_ = server.Close()
			}
			monitoring.Logf("status server routine stopped")
		}()
	}

	runErr := p.Run(ctx, src)
	if runErr != nil && ctx.Err() == nil {
		monitoring.Logf("pipeline stopped: %v", runErr)
	}
	st := p.Stats()
	monitoring.Logf("processed %d frames (%d overruns, %d tracks created)", st.Frames, st.Overruns, st.TracksCreated)

	// Stopping the context makes the driver send its final FREEZE.
	stop()
	wg.Wait()

	if recorder != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := recorder.Close(closeCtx); err != nil {
			monitoring.Logf("audit log close: %v", err)
		}
		cancel()
	}
	monitoring.Logf("graceful shutdown complete")
}
