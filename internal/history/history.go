// Package history keeps a log of batch runs in SQLite so a run's outcome
// can be inspected after its terminal output is gone.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	_ "modernc.org/sqlite"
)

// Schema for the run log.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	source_dir TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	rank_a INTEGER NOT NULL,
	rank_b INTEGER NOT NULL,
	params TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	aborted INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_items (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	source_path TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	line_count INTEGER NOT NULL DEFAULT 0,
	top INTEGER,
	bottom INTEGER,
	failure_kind TEXT NOT NULL DEFAULT '',
	failure_message TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run summarises one recorded batch.
type Run struct {
	RunID      string    `json:"run_id"`
	SourceDir  string    `json:"source_dir"`
	OutputDir  string    `json:"output_dir"`
	RankA      int       `json:"rank_a"`
	RankB      int       `json:"rank_b"`
	Params     string    `json:"params"`
	DryRun     bool      `json:"dry_run"`
	Aborted    bool      `json:"aborted"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ItemRecord is one stored item of a run.
type ItemRecord struct {
	Index          int    `json:"index"`
	SourcePath     string `json:"source_path"`
	OutputPath     string `json:"output_path,omitempty"`
	Status         string `json:"status"`
	LineCount      int    `json:"line_count"`
	Top            *int   `json:"top,omitempty"`
	Bottom         *int   `json:"bottom,omitempty"`
	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Store is the run log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log at path. ":memory:" gives a
// private in-memory log.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: exec schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DefaultPath is the run log under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "linecrop-history.db"
	}
	return filepath.Join(dir, "linecrop", "history.db")
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores rep and all of its items in one transaction.
func (s *Store) Record(ctx context.Context, rep *batch.Report) error {
	params, err := json.Marshal(rep.Params)
	if err != nil {
		return fmt.Errorf("history: encode params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(run_id, source_dir, output_dir, rank_a, rank_b, params, dry_run, aborted, total, succeeded, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.SourceDir, rep.OutputDir, rep.Selection.RankA, rep.Selection.RankB, string(params),
		rep.DryRun, rep.Aborted, rep.Total, len(rep.Succeeded()), len(rep.Failed()),
		rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_items
		(run_id, idx, source_path, output_path, status, line_count, top, bottom, failure_kind, failure_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range rep.Items {
		var top, bottom sql.NullInt64
		if it.Region != nil {
			top = sql.NullInt64{Int64: int64(it.Region.Top), Valid: true}
			bottom = sql.NullInt64{Int64: int64(it.Region.Bottom), Valid: true}
		}
		var kind, msg string
		if it.Failure != nil {
			kind, msg = string(it.Failure.Kind), it.Failure.Message
		}
		if _, err := stmt.ExecContext(ctx, rep.RunID, it.Index, it.SourcePath, it.OutputPath, string(it.Status),
			len(it.Lines), top, bottom, kind, msg); err != nil {
			return fmt.Errorf("history: insert item %d: %w", it.Index, err)
		}
	}

	return tx.Commit()
}

// List returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, source_dir, output_dir, rank_a, rank_b, params,
		dry_run, aborted, total, succeeded, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.SourceDir, &r.OutputDir, &r.RankA, &r.RankB, &r.Params,
			&r.DryRun, &r.Aborted, &r.Total, &r.Succeeded, &r.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Items returns the stored items of runID in listing order.
func (s *Store) Items(ctx context.Context, runID string) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, source_path, output_path, status, line_count, top, bottom,
		failure_kind, failure_message FROM run_items WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: items: %w", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var it ItemRecord
		var top, bottom sql.NullInt64
		if err := rows.Scan(&it.Index, &it.SourcePath, &it.OutputPath, &it.Status, &it.LineCount,
			&top, &bottom, &it.FailureKind, &it.FailureMessage); err != nil {
			return nil, fmt.Errorf("history: scan item: %w", err)
		}
		if top.Valid {
			v := int(top.Int64)
			it.Top = &v
		}
		if bottom.Valid {
			v := int(bottom.Int64)
			it.Bottom = &v
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
