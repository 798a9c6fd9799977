// Package indexdb maintains a sqlite read-model of the ride's tick
// history: runs, incidents and raw events. It is fed asynchronously
// from tick log entries and never affects control determinism; the
// compressed JSONL logs remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"rideloop/internal/protocol"
	"rideloop/internal/sim/ride"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan ride.TickLogEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Generous buffer: event-heavy ticks must not stall the loop.
		ch: make(chan ride.TickLogEntry, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL is a fair
	// durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			mode TEXT NOT NULL,
			digest TEXT NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_tick ON events(type, tick);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			vehicle TEXT NOT NULL,
			dispatched_tick INTEGER NOT NULL,
			completed_tick INTEGER,
			outcome TEXT NOT NULL DEFAULT 'ACTIVE'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_dispatched ON runs(dispatched_tick);`,
		`CREATE TABLE IF NOT EXISTS incidents (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			source TEXT,
			detail TEXT,
			PRIMARY KEY (tick, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTick enqueues one tick entry. Entries are dropped when the
// indexer falls behind.
func (s *SQLiteIndex) WriteTick(entry ride.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,mode,digest,events,raw_json) VALUES(?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,type,raw_json) VALUES(?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR IGNORE INTO runs(run_id,vehicle,dispatched_tick) VALUES(?,?,?)`)
	completeRun, _ := s.db.Prepare(`UPDATE runs SET completed_tick=?, outcome='COMPLETED' WHERE run_id=?`)
	insertIncident, _ := s.db.Prepare(`INSERT OR REPLACE INTO incidents(tick,seq,type,source,detail) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertRun, completeRun, insertIncident} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for entry := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		raw, _ := json.Marshal(entry)
		if insertTick != nil {
			if _, err := tx.Stmt(insertTick).Exec(
				int64(entry.Tick),
				entry.Mode,
				entry.Digest,
				len(entry.Events),
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		aborted := false
		for i, ev := range entry.Events {
			if err := s.indexEvent(tx, insertEvent, insertRun, completeRun, insertIncident, entry.Tick, i, ev); err != nil {
				rollback()
				aborted = true
				break
			}
			opCount++
		}
		if aborted {
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) indexEvent(tx *sql.Tx, insertEvent, insertRun, completeRun, insertIncident *sql.Stmt, tick uint64, seq int, ev protocol.Event) error {
	typ, _ := ev["type"].(string)
	raw, _ := json.Marshal(ev)
	if insertEvent != nil {
		if _, err := tx.Stmt(insertEvent).Exec(int64(tick), seq, typ, string(raw)); err != nil {
			return err
		}
	}

	str := func(key string) string {
		v, _ := ev[key].(string)
		return v
	}

	switch typ {
	case protocol.EvTrainDispatched:
		if insertRun != nil {
			if _, err := tx.Stmt(insertRun).Exec(str("run_id"), str("vehicle"), int64(tick)); err != nil {
				return err
			}
		}
	case protocol.EvTrainCompleted:
		if completeRun != nil {
			if _, err := tx.Stmt(completeRun).Exec(int64(tick), str("run_id")); err != nil {
				return err
			}
		}
	case protocol.EvEmergencyStopRaised, protocol.EvSafetyViolation, protocol.EvReverseAborted:
		if insertIncident != nil {
			detail := str("reason")
			if detail == "" {
				detail = str("detail")
			}
			source := str("source")
			if source == "" {
				source = str("device_id")
			}
			if _, err := tx.Stmt(insertIncident).Exec(int64(tick), seq, typ, source, detail); err != nil {
				return err
			}
		}
	}
	return nil
}
