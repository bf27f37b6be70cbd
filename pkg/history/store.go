// Package history keeps past runs in SQLite so that a report can show how
// each case moved since the previous run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/justjake/querybench/pkg/report"
	"github.com/justjake/querybench/pkg/timing"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	git_sha     TEXT NOT NULL DEFAULT '',
	git_branch  TEXT NOT NULL DEFAULT '',
	git_dirty   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS case_results (
	run_id     TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	grp        TEXT NOT NULL,
	name       TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL,
	mean_ns    INTEGER NOT NULL,
	stddev_ns  INTEGER NOT NULL,
	p50_ns     INTEGER NOT NULL,
	p90_ns     INTEGER NOT NULL,
	p99_ns     INTEGER NOT NULL,
	rme        REAL NOT NULL,
	row_count  INTEGER NOT NULL,
	timed_out  INTEGER NOT NULL,
	PRIMARY KEY (run_id, grp, name)
);

CREATE INDEX IF NOT EXISTS case_results_case_idx ON case_results (grp, name, status);
`

// Store is a SQLite database of runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores meta and every case result in one transaction. Saving the
// same run twice replaces it.
func (s *Store) SaveRun(ctx context.Context, meta report.Meta, results *timing.Results) (err error) {
	if meta.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM case_results WHERE run_id = ?`, meta.RunID); err != nil {
		return fmt.Errorf("failed to clear run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, started_at, finished_at, git_sha, git_branch, git_dirty)
		VALUES (?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.Started.UnixNano(), meta.Finished.UnixNano(), meta.GitSHA, meta.GitBranch, meta.GitDirty)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO case_results (run_id, grp, name, strategy, status, error, iterations,
			mean_ns, stddev_ns, p50_ns, p90_ns, p99_ns, rme, row_count, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for r := range results.All() {
		cause := ""
		if r.Err != nil {
			cause = r.Err.Error()
		}
		st := r.Stats
		_, err = stmt.ExecContext(ctx, meta.RunID, r.Group, r.Case, string(r.Strategy), string(r.Status), cause,
			st.Iterations, int64(st.Mean), int64(st.StdDev), int64(st.P50), int64(st.P90), int64(st.P99),
			st.RME, r.Rows, r.TimedOut)
		if err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", r.Group, r.Case, err)
		}
	}
	return tx.Commit()
}

// Baseline returns, for every case that ever succeeded, its mean from the
// most recent earlier run in which it succeeded. excludeRunID is skipped so
// the current run never compares against itself.
func (s *Store) Baseline(ctx context.Context, excludeRunID string) (report.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.grp, c.name, c.mean_ns
		FROM case_results c
		JOIN runs r ON r.id = c.run_id
		WHERE c.status = 'ok' AND c.run_id <> ?1
		  AND r.started_at = (
			SELECT MAX(r2.started_at)
			FROM case_results c2
			JOIN runs r2 ON r2.id = c2.run_id
			WHERE c2.grp = c.grp AND c2.name = c.name AND c2.status = 'ok' AND c2.run_id <> ?1
		  )`, excludeRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	defer rows.Close()

	baseline := report.Baseline{}
	for rows.Next() {
		var (
			group, name string
			mean        int64
		)
		if err := rows.Scan(&group, &name, &mean); err != nil {
			return nil, err
		}
		if baseline[group] == nil {
			baseline[group] = make(map[string]time.Duration)
		}
		baseline[group][name] = time.Duration(mean)
	}
	return baseline, rows.Err()
}
