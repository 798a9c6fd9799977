package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "rideloop/internal/persistence/log"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
	"rideloop/internal/sim/ride"
	"rideloop/internal/sim/tuning"
)

// Replays a recorded tick log against a fresh ride built from the
// same configs and verifies the per-tick state digests line up.
func main() {
	var (
		rideID     = flag.String("ride", "ride_1", "ride id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: <configs>/layout.yaml)")
		vehicles   = flag.Int("vehicles", 3, "vehicle pool size used for the recording")
		accel      = flag.Float64("accel", 2.0, "vehicle acceleration used for the recording (m/s^2)")
		maxTicks   = flag.Uint64("max_ticks", 0, "stop after this many ticks (0 = all)")
		verbose    = flag.Bool("v", false, "log every replayed tick")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	lp := strings.TrimSpace(*layoutPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "layout.yaml")
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	lay, err := layout.Load(lp)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}

	files, err := listTickFiles(filepath.Join(*dataDir, "rides", *rideID, "ticks"))
	if err != nil {
		logger.Fatalf("list tick logs: %v", err)
	}
	if len(files) == 0 {
		logger.Fatalf("no tick logs under %s", filepath.Join(*dataDir, "rides", *rideID, "ticks"))
	}

	field := motion.NewField(tune.TickRateHz)
	circuit := lay.FullPath()
	pool := make([]*ride.Vehicle, 0, *vehicles)
	for i := 0; i < *vehicles; i++ {
		k := motion.NewKinematic(circuit, *accel, true)
		field.Add(k)
		pool = append(pool, &ride.Vehicle{ID: fmt.Sprintf("V%d", i+1), Mover: k})
	}
	r, err := ride.New(ride.ConfigFromTuning(tune), lay, pool)
	if err != nil {
		logger.Fatalf("build ride: %v", err)
	}
	r.SetPhysics(field)

	var replayed, mismatches uint64
	for _, path := range files {
		entries, err := persistlog.ReadTicks(path)
		if err != nil {
			logger.Fatalf("read %s: %v", path, err)
		}
		for _, entry := range entries {
			tick, digest := r.StepOnce(entry.Commands)
			if tick != entry.Tick {
				logger.Fatalf("tick drift: log has %d, replay at %d (%s)", entry.Tick, tick, path)
			}
			if digest != entry.Digest {
				mismatches++
				logger.Printf("DIGEST MISMATCH tick=%d logged=%s replayed=%s", tick, entry.Digest, digest)
			} else if *verbose {
				logger.Printf("tick=%d mode=%s cmds=%d events=%d ok", tick, entry.Mode, len(entry.Commands), len(entry.Events))
			}
			replayed++
			if *maxTicks > 0 && replayed >= *maxTicks {
				finish(logger, replayed, mismatches)
				return
			}
		}
	}
	finish(logger, replayed, mismatches)
}

func finish(logger *log.Logger, replayed, mismatches uint64) {
	if mismatches > 0 {
		logger.Printf("replayed %d ticks, %d digest mismatches", replayed, mismatches)
		os.Exit(1)
	}
	logger.Printf("replayed %d ticks, all digests match", replayed)
}

func listTickFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "ticks-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
