package indexdb

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// Query is a read-only handle onto an index database, independent of
// the async writer. It only sees committed data.
type Query struct {
	db *sql.DB
}

func OpenQuery(path string) (*Query, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Query{db: db}, nil
}

func (q *Query) Close() error { return q.db.Close() }

type RunRow struct {
	RunID          string
	Vehicle        string
	DispatchedTick int64
	CompletedTick  sql.NullInt64
	Outcome        string
}

// RecentRuns returns the newest runs first.
func (q *Query) RecentRuns(limit int) ([]RunRow, error) {
	rows, err := q.db.Query(
		`SELECT run_id, vehicle, dispatched_tick, completed_tick, outcome
		 FROM runs ORDER BY dispatched_tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Vehicle, &r.DispatchedTick, &r.CompletedTick, &r.Outcome); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type IncidentRow struct {
	Tick   int64
	Type   string
	Source string
	Detail string
}

func (q *Query) Incidents(limit int) ([]IncidentRow, error) {
	rows, err := q.db.Query(
		`SELECT tick, type, COALESCE(source,''), COALESCE(detail,'')
		 FROM incidents ORDER BY tick DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IncidentRow
	for rows.Next() {
		var r IncidentRow
		if err := rows.Scan(&r.Tick, &r.Type, &r.Source, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventsByType returns raw event JSON for one event type, oldest
// first, from the given tick onward.
func (q *Query) EventsByType(typ string, sinceTick uint64, limit int) ([]string, error) {
	rows, err := q.db.Query(
		`SELECT raw_json FROM events WHERE type=? AND tick>=? ORDER BY tick, seq LIMIT ?`,
		typ, int64(sinceTick), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TickCount reports how many ticks have been indexed.
func (q *Query) TickCount() (int64, error) {
	var n int64
	err := q.db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n)
	return n, err
}
