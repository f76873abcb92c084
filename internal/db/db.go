// Package db provides PostgreSQL storage for the durable job archive. The
// in-memory store remains the source of truth while a job runs; terminal
// jobs are copied here so results survive restarts.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/genome-harvester/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the archive tables if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS harvest_jobs (
			id           UUID PRIMARY KEY,
			mode         TEXT NOT NULL,
			status       TEXT NOT NULL,
			total        INT NOT NULL,
			completed    INT NOT NULL,
			errored      INT NOT NULL,
			errors       JSONB,
			submitted_at TIMESTAMPTZ NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS harvest_records (
			id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			job_id    UUID NOT NULL REFERENCES harvest_jobs(id) ON DELETE CASCADE,
			position  INT NOT NULL,
			accession TEXT NOT NULL,
			organism  TEXT NOT NULL,
			record    JSONB NOT NULL,
			UNIQUE (job_id, position)
		);
		CREATE INDEX IF NOT EXISTS harvest_records_accession_idx
			ON harvest_records (accession)`)
	if err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// ArchiveJob stores a terminal job and its records. Re-archiving the same
// job replaces the previous copy.
func (db *DB) ArchiveJob(ctx context.Context, job *types.Job) error {
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal job errors: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO harvest_jobs (id, mode, status, total, completed, errored, errors, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET status = $3, total = $4, completed = $5,
		     errored = $6, errors = $7, finished_at = NOW()`,
		job.ID, job.Mode, job.Status,
		job.Progress.Total, job.Progress.Completed, job.Progress.Errored,
		errorsJSON, job.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM harvest_records WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("failed to clear archived records: %w", err)
	}
	for i := range job.Results {
		if err := db.insertRecord(ctx, tx, job.ID, i, &job.Results[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func (db *DB) insertRecord(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, position int, rec *types.NormalizedRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.Accession, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO harvest_records (job_id, position, accession, organism, record)
		 VALUES ($1, $2, $3, $4, $5)`,
		jobID, position, rec.Accession, rec.Organism, recordJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to archive record %s: %w", rec.Accession, err)
	}
	return nil
}

// ArchivedJob is the archive's view of a terminal job
type ArchivedJob struct {
	ID          uuid.UUID         `json:"job_id"`
	Mode        types.JobMode     `json:"mode"`
	Status      types.JobStatus   `json:"status"`
	Progress    types.Progress    `json:"progress"`
	Errors      []types.ItemError `json:"errors,omitempty"`
	SubmittedAt string            `json:"submitted_at"`
	FinishedAt  string            `json:"finished_at"`
}

// GetArchivedJob retrieves an archived job by ID, or nil when absent
func (db *DB) GetArchivedJob(ctx context.Context, jobID uuid.UUID) (*ArchivedJob, error) {
	var job ArchivedJob
	var errorsJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, mode, status, total, completed, errored, errors,
		        submitted_at::text, finished_at::text
		 FROM harvest_jobs WHERE id = $1`,
		jobID,
	).Scan(&job.ID, &job.Mode, &job.Status,
		&job.Progress.Total, &job.Progress.Completed, &job.Progress.Errored,
		&errorsJSON, &job.SubmittedAt, &job.FinishedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}
	if len(errorsJSON) > 0 {
		_ = json.Unmarshal(errorsJSON, &job.Errors)
	}
	return &job, nil
}

// GetArchivedRecords retrieves a job's records in their original order
func (db *DB) GetArchivedRecords(ctx context.Context, jobID uuid.UUID) ([]types.NormalizedRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT record FROM harvest_records WHERE job_id = $1 ORDER BY position ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived records: %w", err)
	}
	defer rows.Close()

	var records []types.NormalizedRecord
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan archived record: %w", err)
		}
		var rec types.NormalizedRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode archived record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// JobFilters holds optional filters for listing archived jobs
type JobFilters struct {
	Mode   types.JobMode
	Status types.JobStatus
	Limit  int
}

// ListArchivedJobs retrieves archived jobs with optional filters, newest first
func (db *DB) ListArchivedJobs(ctx context.Context, filters JobFilters) ([]ArchivedJob, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT id, mode, status, total, completed, errored, errors,
	          submitted_at::text, finished_at::text
		FROM harvest_jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Mode != "" {
		query += fmt.Sprintf(" AND mode = $%d", argNum)
		args = append(args, filters.Mode)
		argNum++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ArchivedJob
	for rows.Next() {
		var job ArchivedJob
		var errorsJSON []byte
		if err := rows.Scan(&job.ID, &job.Mode, &job.Status,
			&job.Progress.Total, &job.Progress.Completed, &job.Progress.Errored,
			&errorsJSON, &job.SubmittedAt, &job.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived job: %w", err)
		}
		if len(errorsJSON) > 0 {
			_ = json.Unmarshal(errorsJSON, &job.Errors)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
