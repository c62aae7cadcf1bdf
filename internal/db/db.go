// Package db is the sqlite event log: one row per run, the serial link
// state changes within it, and periodic tick statistics.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database at path and applies connection pragmas without
// touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows one writer; serialise through a single connection
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run is one process lifetime of the panel loop.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	SerialPort string     `json:"serial_port"`
	PanelCount int        `json:"panel_count"`
	ConfigJSON string     `json:"config_json"`
}

// LinkEvent is a stored serial link state change.
type LinkEvent struct {
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Kind  string    `json:"kind"`
	Port  string    `json:"port"`
	Error string    `json:"error,omitempty"`
}

// TickStats summarises the loop over one reporting window.
type TickStats struct {
	RunID           string        `json:"run_id"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	Ticks           int64         `json:"ticks"`
	SessionsWritten int64         `json:"sessions_written"`
	SessionsDropped int64         `json:"sessions_dropped"`
	PanelsSkipped   int64         `json:"panels_skipped"`
	BytesWritten    int64         `json:"bytes_written"`
	MaxTick         time.Duration `json:"max_tick"`
	MeanTick        time.Duration `json:"mean_tick"`
}

// StartRun inserts a run.
func (db *DB) StartRun(ctx context.Context, r Run) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix, serial_port, panel_count, config_json)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixNano(), r.SerialPort, r.PanelCount, r.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(ctx context.Context, id string, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET ended_unix = ? WHERE run_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_unix, ended_unix, serial_port, panel_count, config_json
		 FROM runs ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&r.ID, &started, &ended, &r.SerialPort, &r.PanelCount, &r.ConfigJSON); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordLinkEvent stores one link event.
func (db *DB) RecordLinkEvent(ctx context.Context, ev LinkEvent) error {
	var errText sql.NullString
	if ev.Error != "" {
		errText = sql.NullString{String: ev.Error, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO link_events (run_id, at_unix_nanos, kind, port, error) VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, ev.At.UnixNano(), ev.Kind, ev.Port, errText,
	)
	return err
}

// LinkEvents returns the events of a run in time order.
func (db *DB) LinkEvents(ctx context.Context, runID string) ([]LinkEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT at_unix_nanos, kind, port, error FROM link_events
		 WHERE run_id = ? ORDER BY at_unix_nanos, event_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []LinkEvent
	for rows.Next() {
		ev := LinkEvent{RunID: runID}
		var at int64
		var errText sql.NullString
		if err := rows.Scan(&at, &ev.Kind, &ev.Port, &errText); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, at)
		ev.Error = errText.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordTickStats stores one statistics window.
func (db *DB) RecordTickStats(ctx context.Context, s TickStats) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO tick_stats (
			run_id, window_start_nanos, window_end_nanos, ticks, sessions_written,
			sessions_dropped, panels_skipped, bytes_written, max_tick_micros, mean_tick_micros
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.WindowStart.UnixNano(), s.WindowEnd.UnixNano(), s.Ticks, s.SessionsWritten,
		s.SessionsDropped, s.PanelsSkipped, s.BytesWritten, s.MaxTick.Microseconds(),
		float64(s.MeanTick)/float64(time.Microsecond),
	)
	return err
}

// RecentTickStats returns up to limit windows of a run, oldest first.
func (db *DB) RecentTickStats(ctx context.Context, runID string, limit int) ([]TickStats, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT window_start_nanos, window_end_nanos, ticks, sessions_written, sessions_dropped,
		        panels_skipped, bytes_written, max_tick_micros, mean_tick_micros
		 FROM (SELECT * FROM tick_stats WHERE run_id = ? ORDER BY window_start_nanos DESC LIMIT ?)
		 ORDER BY window_start_nanos`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickStats
	for rows.Next() {
		s := TickStats{RunID: runID}
		var start, end, maxMicros int64
		var meanMicros float64
		if err := rows.Scan(&start, &end, &s.Ticks, &s.SessionsWritten, &s.SessionsDropped,
			&s.PanelsSkipped, &s.BytesWritten, &maxMicros, &meanMicros); err != nil {
			return nil, err
		}
		s.WindowStart = time.Unix(0, start)
		s.WindowEnd = time.Unix(0, end)
		s.MaxTick = time.Duration(maxMicros) * time.Microsecond
		s.MeanTick = time.Duration(meanMicros * float64(time.Microsecond))
		out = append(out, s)
	}
	return out, rows.Err()
}
