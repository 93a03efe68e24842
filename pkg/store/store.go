// Package store appends study results to a SQLite database so runs can be
// compared over time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hippovol/pkg/study"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS measurements (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	cohort            TEXT NOT NULL,
	timepoint         TEXT NOT NULL,
	position          INTEGER NOT NULL,
	subject           TEXT NOT NULL,
	path              TEXT NOT NULL,
	threshold         REAL NOT NULL,
	foreground_pixels INTEGER NOT NULL,
	volume_mm3        REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS comparisons (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	timepoint TEXT NOT NULL,
	method    TEXT NOT NULL,
	statistic REAL,
	p_value   REAL,
	df        REAL,
	error     TEXT
);
CREATE INDEX IF NOT EXISTS idx_measurements_run ON measurements(run_id);
CREATE INDEX IF NOT EXISTS idx_comparisons_run ON comparisons(run_id);
`

// Store manages result persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveReport writes the run, its measurements and its comparisons in a single
// transaction.
func (s *Store) SaveReport(ctx context.Context, r *study.Report) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms) VALUES (?, ?, ?)`,
		r.RunID.String(), r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, c := range r.Cohorts {
		for i, m := range c.Series {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO measurements (run_id, cohort, timepoint, position, subject, path, threshold, foreground_pixels, volume_mm3)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.RunID.String(), c.Group, c.Timepoint, i, m.Subject, m.Path, m.Threshold, m.ForegroundPixels, m.Volume,
			); err != nil {
				return fmt.Errorf("insert measurement %s: %w", m.Path, err)
			}
		}
	}

	for _, tp := range r.Timepoints {
		var errText sql.NullString
		if tp.Err != nil {
			errText = sql.NullString{String: tp.Err.Error(), Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO comparisons (run_id, timepoint, method, statistic, p_value, df, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID.String(), tp.Label, string(tp.Result.Method),
			nullable(tp.Result.Statistic), nullable(tp.Result.PValue), nullable(tp.Result.DF), errText,
		); err != nil {
			return fmt.Errorf("insert comparison %s: %w", tp.Label, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ComparisonRecord is a stored timepoint comparison.
type ComparisonRecord struct {
	RunID     string
	Timepoint string
	Method    string
	Statistic sql.NullFloat64
	PValue    sql.NullFloat64
	DF        sql.NullFloat64
	Error     sql.NullString
}

// Comparisons returns the stored comparisons of a run in insertion order.
func (s *Store) Comparisons(ctx context.Context, runID string) ([]ComparisonRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, timepoint, method, statistic, p_value, df, error
		 FROM comparisons WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query comparisons: %w", err)
	}
	defer rows.Close()

	var out []ComparisonRecord
	for rows.Next() {
		var rec ComparisonRecord
		if err := rows.Scan(&rec.RunID, &rec.Timepoint, &rec.Method, &rec.Statistic, &rec.PValue, &rec.DF, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountMeasurements returns how many measurements a run stored.
func (s *Store) CountMeasurements(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurements WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count measurements: %w", err)
	}
	return n, nil
}

// nullable stores non-finite values as NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
