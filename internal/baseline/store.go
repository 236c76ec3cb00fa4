// Package baseline persists lightweight run state between syncs in a local
// SQLite file: one anomaly baseline per table (row count plus measure sums)
// and a history of finalized run reports. The validator reads the previous
// baseline; the orchestrator writes the new one after each run.
package baseline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gymsync/internal/validate"
)

const ddl = `
CREATE TABLE IF NOT EXISTS table_baselines (
    table_name  TEXT PRIMARY KEY,
    row_count   INTEGER NOT NULL,
    sums        TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_reports (
    run_id      TEXT PRIMARY KEY,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    status      TEXT NOT NULL,
    report      TEXT NOT NULL
);`

// Store is the SQLite-backed baseline and run-history store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("baseline: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("baseline: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the stored baseline for a table, or nil when no previous run
// recorded one.
func (s *Store) Load(ctx context.Context, table string) (*validate.Baseline, error) {
	var (
		rows      int64
		sumsJSON  string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT row_count, sums, updated_at FROM table_baselines WHERE table_name = ?", table,
	).Scan(&rows, &sumsJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("baseline: load %s: %w", table, err)
	}

	b := &validate.Baseline{Table: table, Rows: rows, Sums: map[string]float64{}}
	if err := json.Unmarshal([]byte(sumsJSON), &b.Sums); err != nil {
		return nil, fmt.Errorf("baseline: decode sums for %s: %w", table, err)
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		b.At = t
	}
	return b, nil
}

// Save upserts a table's baseline.
func (s *Store) Save(ctx context.Context, b validate.Baseline) error {
	sums, err := json.Marshal(b.Sums)
	if err != nil {
		return fmt.Errorf("baseline: encode sums for %s: %w", b.Table, err)
	}
	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO table_baselines (table_name, row_count, sums, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(table_name) DO UPDATE SET
    row_count  = excluded.row_count,
    sums       = excluded.sums,
    updated_at = excluded.updated_at`,
		b.Table, b.Rows, string(sums), at.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("baseline: save %s: %w", b.Table, err)
	}
	return nil
}

// RecordRun stores a finalized run report as JSON for later inspection.
func (s *Store) RecordRun(ctx context.Context, runID string, started, finished time.Time, status string, report any) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("baseline: encode run report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO run_reports (run_id, started_at, finished_at, status, report)
VALUES (?, ?, ?, ?, ?)`,
		runID, started.UTC().Format(time.RFC3339), finished.UTC().Format(time.RFC3339), status, string(body))
	if err != nil {
		return fmt.Errorf("baseline: record run %s: %w", runID, err)
	}
	return nil
}
