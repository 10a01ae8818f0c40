// Package store keeps simulation traces in SQLite.
//
// One database holds many runs. Each run records the machines it was built
// with (id, tick rate, peer pair) and every trace line each machine wrote,
// numbered per machine. The store doubles as a trace.Recorder so a running
// cluster can write into it directly, and the CLI reads it back to list,
// tail and summarize runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/clockdrift/pkg/model"

	_ "modernc.org/sqlite"
)

// AllMachines selects every machine of a run in ListLines.
const AllMachines = -1

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp with the default config. Every machine
// writes its trace from its own goroutine, so all writes go through here.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		seed        INTEGER NOT NULL DEFAULT 0,
		mode        TEXT NOT NULL,
		machines    INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS machines (
		run_id TEXT NOT NULL REFERENCES runs(id),
		id     INTEGER NOT NULL,
		rate   INTEGER NOT NULL,
		peer_a INTEGER NOT NULL,
		peer_b INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS trace (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL REFERENCES runs(id),
		machine_id   INTEGER NOT NULL,
		seq          INTEGER NOT NULL,
		kind         TEXT,
		system_time  REAL NOT NULL DEFAULT 0,
		logical_time INTEGER NOT NULL DEFAULT 0,
		line         TEXT NOT NULL,
		UNIQUE (run_id, machine_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_trace_logical ON trace(run_id, logical_time, machine_id);
	CREATE INDEX IF NOT EXISTS idx_trace_kind ON trace(run_id, machine_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts a run. An empty ID is filled with a fresh UUID and a
// zero StartedAt with the current time; the stored run is returned.
func (s *Store) CreateRun(r model.Run) (*model.Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO runs (id, seed, mode, machines, started_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Seed, r.Mode, r.Machines, r.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FinishRun stamps the run's finish time.
func (s *Store) FinishRun(id string, at time.Time) error {
	var n int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`,
			at.UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, seed, mode, machines, started_at, COALESCE(finished_at, '') FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, seed, mode, machines, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY rowid DESC LIMIT 1`,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, seed, mode, machines, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var startStr, finishStr string
	if err := row.Scan(&r.ID, &r.Seed, &r.Mode, &r.Machines, &startStr, &finishStr); err != nil {
		return nil, err
	}
	var parseErr error
	r.StartedAt, parseErr = time.Parse(time.RFC3339Nano, startStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, parseErr)
	}
	if finishStr != "" {
		fin, err := time.Parse(time.RFC3339Nano, finishStr)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, err)
		}
		r.FinishedAt = &fin
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Machines
// ---------------------------------------------------------------------------

// RegisterMachine records a machine's configuration for a run. Idempotent.
func (s *Store) RegisterMachine(m model.MachineInfo) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO machines (run_id, id, rate, peer_a, peer_b) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, id) DO UPDATE SET
			   rate = excluded.rate, peer_a = excluded.peer_a, peer_b = excluded.peer_b`,
			m.RunID, m.ID, m.Rate, m.PeerA, m.PeerB,
		)
		return err
	})
}

// ListMachines returns a run's machines ordered by ID.
func (s *Store) ListMachines(runID string) ([]model.MachineInfo, error) {
	rows, err := s.db.Query(
		`SELECT run_id, id, rate, peer_a, peer_b FROM machines WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MachineInfo
	for rows.Next() {
		var m model.MachineInfo
		if err := rows.Scan(&m.RunID, &m.ID, &m.Rate, &m.PeerA, &m.PeerB); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Trace
// ---------------------------------------------------------------------------

// AppendLine adds line to the end of a machine's trace and returns its
// sequence number (1-based). Lines that parse as trace records also fill
// the kind and time columns; anything else is stored verbatim.
func (s *Store) AppendLine(runID string, machineID int, line string) (int64, error) {
	var kind sql.NullString
	var sys float64
	var lt int64
	if r, err := model.ParseTraceLine(line); err == nil {
		kind = sql.NullString{String: string(r.Kind), Valid: true}
		sys, lt = r.SystemTime, r.LogicalTime
	}

	var seq int64
	err := retryOnContention(func() error {
		return s.db.QueryRow(
			`INSERT INTO trace (run_id, machine_id, seq, kind, system_time, logical_time, line)
			 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
			 FROM trace WHERE run_id = ? AND machine_id = ?
			 RETURNING seq`,
			runID, machineID, kind, sys, lt, line, runID, machineID,
		).Scan(&seq)
	})
	return seq, err
}

// WipeLines deletes a machine's trace for a run.
func (s *Store) WipeLines(runID string, machineID int) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM trace WHERE run_id = ? AND machine_id = ?`, runID, machineID)
		return err
	})
}

// ListLines returns trace lines with seq > sinceSeq. For a single machine
// they come back in write order. For AllMachines they are merged in the
// Lamport total order (logical time, then machine id); sinceSeq is ignored.
func (s *Store) ListLines(runID string, machineID int, sinceSeq int64, limit int) ([]model.TraceLine, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if machineID == AllMachines {
		rows, err = s.db.Query(
			`SELECT run_id, machine_id, seq, COALESCE(kind, ''), system_time, logical_time, line
			 FROM trace WHERE run_id = ?
			 ORDER BY logical_time ASC, machine_id ASC, seq ASC LIMIT ?`,
			runID, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT run_id, machine_id, seq, COALESCE(kind, ''), system_time, logical_time, line
			 FROM trace WHERE run_id = ? AND machine_id = ? AND seq > ?
			 ORDER BY seq ASC LIMIT ?`,
			runID, machineID, sinceSeq, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

// MaxSeq returns the last sequence number written for a machine, or 0.
func (s *Store) MaxSeq(runID string, machineID int) int64 {
	var seq int64
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM trace WHERE run_id = ? AND machine_id = ?`,
		runID, machineID,
	).Scan(&seq); err != nil {
		return 0
	}
	return seq
}

// CountByKind returns per-machine counts of each trace kind in a run.
// Lines without a recognized kind are not counted.
func (s *Store) CountByKind(runID string) (map[int]map[model.TraceKind]int64, error) {
	rows, err := s.db.Query(
		`SELECT machine_id, kind, COUNT(*) FROM trace
		 WHERE run_id = ? AND kind IS NOT NULL
		 GROUP BY machine_id, kind`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]map[model.TraceKind]int64)
	for rows.Next() {
		var id int
		var kind string
		var n int64
		if err := rows.Scan(&id, &kind, &n); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[model.TraceKind]int64)
		}
		out[id][model.TraceKind(kind)] = n
	}
	return out, rows.Err()
}

func scanLines(rows *sql.Rows) ([]model.TraceLine, error) {
	var lines []model.TraceLine
	for rows.Next() {
		var l model.TraceLine
		var kind string
		if err := rows.Scan(&l.RunID, &l.MachineID, &l.Seq, &kind,
			&l.SystemTime, &l.LogicalTime, &l.Line); err != nil {
			return nil, err
		}
		l.Kind = model.TraceKind(kind)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
