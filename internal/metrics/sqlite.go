package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"cfssim/internal/sched"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	nice_0_load   REAL NOT NULL,
	timeslice_ms  INTEGER NOT NULL,
	io_wait_ms    INTEGER NOT NULL,
	io_wait_every INTEGER NOT NULL,
	io_mode       TEXT NOT NULL,
	ticks         INTEGER,
	idle_ticks    INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS events (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	seq          INTEGER NOT NULL,
	tick         INTEGER NOT NULL,
	task_id      INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	vruntime     REAL NOT NULL,
	remaining_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS task_summaries (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	task_id         INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	priority        INTEGER NOT NULL,
	weight          REAL NOT NULL,
	share           REAL NOT NULL,
	burst_ms        INTEGER NOT NULL,
	cpu_ms          INTEGER NOT NULL,
	wait_ms         INTEGER NOT NULL,
	dispatches      INTEGER NOT NULL,
	final_vruntime  REAL NOT NULL,
	completion_tick INTEGER NOT NULL,
	PRIMARY KEY (run_id, task_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_events_task ON events(run_id, task_id)`,
}

// SQLiteRecorder stores runs, their events and final summaries in SQLite.
// Events of a run are written inside one transaction that FinishRun commits.
type SQLiteRecorder struct {
	db     *sql.DB
	logger *slog.Logger

	runID string
	tx    *sql.Tx
	stmt  *sql.Stmt
	seq   int
}

// OpenSQLite opens (or creates) a database at path. Use ":memory:" in tests.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return &SQLiteRecorder{db: db, logger: logger.With("component", "sqlite")}, nil
}

// Migrate creates the tables.
func (r *SQLiteRecorder) Migrate(ctx context.Context) error {
	r.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun registers a new run and opens the transaction events go into.
func (r *SQLiteRecorder) BeginRun(ctx context.Context, cfg sched.Config) (string, error) {
	if r.tx != nil {
		return "", fmt.Errorf("run %s still open", r.runID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	id := xid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, nice_0_load, timeslice_ms, io_wait_ms, io_wait_every, io_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
		cfg.Nice0Load, cfg.Slice(), cfg.IOWaitMS, cfg.IOWaitEvery, string(cfg.IOMode),
	)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, tick, task_id, kind, duration_ms, vruntime, remaining_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("prepare events: %w", err)
	}

	r.runID, r.tx, r.stmt, r.seq = id, tx, stmt, 0
	r.logger.Debug("sql", "op", "begin", "run_id", id)
	return id, nil
}

// HandleEvent implements sched.EventHandler.
func (r *SQLiteRecorder) HandleEvent(ev sched.Event) error {
	if r.tx == nil {
		return errors.New("sqlite recorder: no run in progress")
	}
	_, err := r.stmt.Exec(r.runID, r.seq, ev.Tick, int64(ev.TaskID), ev.Kind.String(),
		ev.Duration, ev.Vruntime, ev.Remaining)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", r.seq, err)
	}
	r.seq++
	return nil
}

// FinishRun stores the final summaries and commits the run.
func (r *SQLiteRecorder) FinishRun(ctx context.Context, report *sched.Report) error {
	if r.tx == nil {
		return errors.New("sqlite recorder: no run in progress")
	}
	defer func() { r.tx, r.stmt = nil, nil }()

	if err := r.finish(ctx, report); err != nil {
		r.stmt.Close()
		r.tx.Rollback()
		return err
	}
	r.stmt.Close()
	if err := r.tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", r.runID, err)
	}
	r.logger.Debug("sql", "op", "commit", "run_id", r.runID, "events", r.seq)
	return nil
}

func (r *SQLiteRecorder) finish(ctx context.Context, report *sched.Report) error {
	if _, err := r.tx.ExecContext(ctx,
		`UPDATE runs SET ticks = ?, idle_ticks = ? WHERE id = ?`,
		report.Ticks, report.IdleTicks, r.runID,
	); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	for _, t := range report.Tasks {
		_, err := r.tx.ExecContext(ctx,
			`INSERT INTO task_summaries (run_id, task_id, kind, priority, weight, share, burst_ms, cpu_ms, wait_ms,
			 dispatches, final_vruntime, completion_tick) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.runID, int64(t.ID), t.Kind.String(), t.Priority, t.Weight, t.Share, t.Burst, t.CPUTime,
			t.WaitTime, t.Dispatches, t.FinalVruntime, t.CompletionTick,
		)
		if err != nil {
			return fmt.Errorf("insert summary for task %d: %w", t.ID, err)
		}
	}
	return nil
}

// Events reads back the events of a committed run in emission order.
func (r *SQLiteRecorder) Events(ctx context.Context, runID string) ([]sched.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick, task_id, kind, duration_ms, vruntime, remaining_ms
		 FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []sched.Event
	for rows.Next() {
		var (
			ev   sched.Event
			id   int64
			kind string
		)
		if err := rows.Scan(&ev.Tick, &id, &kind, &ev.Duration, &ev.Vruntime, &ev.Remaining); err != nil {
			return nil, err
		}
		ev.TaskID = sched.TaskID(id)
		if ev.Kind, err = parseEventKind(kind); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database, rolling back an unfinished run.
func (r *SQLiteRecorder) Close() error {
	if r.tx != nil {
		r.stmt.Close()
		r.tx.Rollback()
		r.tx, r.stmt = nil, nil
	}
	return r.db.Close()
}

func parseEventKind(s string) (sched.EventKind, error) {
	for _, k := range []sched.EventKind{sched.EventRunning, sched.EventWaiting, sched.EventFinished} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}
