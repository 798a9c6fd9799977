package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rideloop/internal/persistence/indexdb"
	persistlog "rideloop/internal/persistence/log"
	"rideloop/internal/sim/layout"
	"rideloop/internal/sim/motion"
	"rideloop/internal/sim/ride"
	"rideloop/internal/sim/tuning"
	"rideloop/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		rideID     = flag.String("ride", "ride_1", "ride id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: <configs>/layout.yaml)")
		vehicles   = flag.Int("vehicles", 3, "vehicle pool size")
		accel      = flag.Float64("accel", 2.0, "vehicle acceleration for the built-in movers (m/s^2)")
		disableDB  = flag.Bool("disable_db", false, "disable sqlite indexing")
		autoStart  = flag.Bool("auto_start", true, "begin dispatching without waiting for a START command")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

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
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	lay, err := layout.Load(lp)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}

	rideDir := filepath.Join(*dataDir, "rides", *rideID)
	_ = os.MkdirAll(rideDir, 0o755)

	// Built-in kinematic movers along the full circuit, one per
	// pooled vehicle.
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

	// Tick log (zstd JSONL) + optional sqlite read-model index.
	tickLog := persistlog.NewTickLogger(rideDir)
	defer tickLog.Close()
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(rideDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}
	r.SetTickLogger(teeTickLogger{tickLog, idx})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("ride loop: %v", err)
		}
	}()
	if *autoStart {
		r.Inbox() <- ride.Command{ReqID: "boot", Kind: ride.CmdStart}
	}

	wsServer := ws.NewServer(r, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok tick=%d\n", r.CurrentTick())
	})

	httpServer := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("ride %s listening on %s (%d blocks, %d vehicles)", *rideID, *addr, r.Blocks().Len(), *vehicles)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpServer.Shutdown(shutCtx)
	r.Stop()
	cancel()
}

// teeTickLogger fans each tick entry out to the compressed log and
// the sqlite index.
type teeTickLogger struct {
	log *persistlog.TickLogger
	idx *indexdb.SQLiteIndex
}

func (t teeTickLogger) WriteTick(e ride.TickLogEntry) error {
	if t.idx != nil {
		_ = t.idx.WriteTick(e)
	}
	return t.log.WriteTick(e)
}
