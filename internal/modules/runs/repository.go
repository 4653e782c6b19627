// Package runs owns the job-run lifecycle and the staging -> publish
// discipline that keeps readers on a consistent snapshot per scope.
package runs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

const runColumns = `run_id, market_scope, job_type, mode, created_by, status,
assets_processed, assets_success, assets_failed, started_at, finished_at, error`

// Repository persists job_runs rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new job-run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "job_runs").Logger(),
	}
}

// Create opens a new run in status running and returns its run_id.
func (r *Repository) Create(scope domain.MarketScope, jobType domain.JobType, mode domain.JobMode, createdBy string) (string, error) {
	runID := uuid.NewString()
	_, err := r.db.Exec(`
		INSERT INTO job_runs (run_id, market_scope, job_type, mode, created_by, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, string(scope), string(jobType), string(mode), createdBy,
		string(domain.RunRunning), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to create job run: %w", err)
	}
	return runID, nil
}

// UpdateStatus transitions a run and updates its counters. Terminal statuses
// stamp finished_at.
func (r *Repository) UpdateStatus(runID string, status domain.JobStatus, processed, success, failed int, errText string) error {
	var finishedAt interface{}
	switch status {
	case domain.RunSuccess, domain.RunFailed, domain.RunCancelled:
		finishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.db.Exec(`
		UPDATE job_runs
		SET status = ?, assets_processed = ?, assets_success = ?, assets_failed = ?,
		    finished_at = COALESCE(?, finished_at), error = ?
		WHERE run_id = ?`,
		string(status), processed, success, failed, finishedAt, errText, runID)
	if err != nil {
		return fmt.Errorf("failed to update job run %s: %w", runID, err)
	}
	return nil
}

// Get returns one run, or nil when the run_id is unknown.
func (r *Repository) Get(runID string) (*domain.JobRun, error) {
	rows, err := r.db.Query("SELECT "+runColumns+" FROM job_runs WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job run: %w", err)
	}
	return run, nil
}

// Recent returns the latest runs, newest first.
func (r *Repository) Recent(limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		"SELECT "+runColumns+" FROM job_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent job runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (*domain.JobRun, error) {
	var (
		run                  domain.JobRun
		scope, jobType, mode string
		status               string
		startedAt            string
		finishedAt           sql.NullString
	)
	err := rows.Scan(&run.RunID, &scope, &jobType, &mode, &run.CreatedBy, &status,
		&run.AssetsProcessed, &run.AssetsSuccess, &run.AssetsFailed,
		&startedAt, &finishedAt, &run.Error)
	if err != nil {
		return nil, err
	}
	run.MarketScope = domain.MarketScope(scope)
	run.JobType = domain.JobType(jobType)
	run.Mode = domain.JobMode(mode)
	run.Status = domain.JobStatus(status)
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
