// Package store persists convergence runs and their per-iteration failure
// rates in a local SQLite database, so past runs can be inspected after the
// process exits.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"riskloop/internal/logging"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one controller execution, from start to terminal status.
type Run struct {
	ID         string
	ProjectID  string
	Spec       string
	Plan       string
	Status     string
	Iterations int
	FinalRate  float64
	Converged  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// IterationRecord is one analyzed iteration within a run.
type IterationRecord struct {
	RunID       string
	Iteration   int
	FailureRate float64
	Scenarios   int
	RecordedAt  time.Time
}

// RunStore wraps the SQLite handle. A single connection with WAL keeps
// concurrent reads cheap without writer contention.
type RunStore struct {
	db  *sql.DB
	log *zap.Logger
}

// Open initializes the database at path, creating parent directories and the
// schema as needed.
func Open(path string) (*RunStore, error) {
	log := logging.Store()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &RunStore{db: db, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	log.Info("run store ready", zap.String("path", path))
	return s, nil
}

func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		spec TEXT NOT NULL,
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		final_failure_rate REAL NOT NULL DEFAULT 0,
		converged INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_iterations (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		failure_rate REAL NOT NULL,
		scenario_count INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, iteration)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in running status and returns it.
func (s *RunStore) CreateRun(ctx context.Context, projectID, spec, plan string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Spec:      spec,
		Plan:      plan,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, spec, plan, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.Spec, run.Plan, run.Status, formatTime(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	s.log.Debug("run created", zap.String("run_id", run.ID), zap.String("project", projectID))
	return run, nil
}

// RecordIteration appends one analyzed iteration and bumps the run's
// iteration count and latest failure rate.
func (s *RunStore) RecordIteration(ctx context.Context, runID string, iteration int, failureRate float64, scenarios int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_iterations (run_id, iteration, failure_rate, scenario_count, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		runID, iteration, failureRate, scenarios, formatTime(time.Now())); err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET iterations = ?, final_failure_rate = ? WHERE id = ?`,
		iteration, failureRate, runID)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}

// FinishRun marks the run terminal and stores the final document revisions.
func (s *RunStore) FinishRun(ctx context.Context, runID, status string, converged bool, finalSpec, finalPlan string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, converged = ?, spec = ?, plan = ?, finished_at = ? WHERE id = ?`,
		status, boolToInt(converged), finalSpec, finalPlan, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	s.log.Debug("run finished", zap.String("run_id", runID), zap.String("status", status))
	return nil
}

// GetRun loads one run by id.
func (s *RunStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, spec, plan, status, iterations, final_failure_rate, converged, started_at, COALESCE(finished_at, '')
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, spec, plan, status, iterations, final_failure_rate, converged, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListIterations returns a run's iteration history in order.
func (s *RunStore) ListIterations(ctx context.Context, runID string) ([]IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, iteration, failure_rate, scenario_count, recorded_at
		 FROM run_iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var records []IterationRecord
	for rows.Next() {
		var (
			rec        IterationRecord
			recordedAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.Iteration, &rec.FailureRate, &rec.Scenarios, &recordedAt); err != nil {
			return nil, fmt.Errorf("list iterations: %w", err)
		}
		rec.RecordedAt = parseTime(recordedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		converged  int
		startedAt  string
		finishedAt string
	)
	if err := row.Scan(&run.ID, &run.ProjectID, &run.Spec, &run.Plan, &run.Status,
		&run.Iterations, &run.FinalRate, &converged, &startedAt, &finishedAt); err != nil {
		return Run{}, err
	}
	run.Converged = converged != 0
	run.StartedAt = parseTime(startedAt)
	if finishedAt != "" {
		run.FinishedAt = parseTime(finishedAt)
	}
	return run, nil
}

// Timestamps are stored as RFC3339 text so they survive the round trip
// driver-independently.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
