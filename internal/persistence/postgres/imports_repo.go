package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// importsRepo implements persistence.ImportsRepo on PostgreSQL.
type importsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewImportsRepo creates a PostgreSQL imports repository.
func NewImportsRepo(db sqlx.ExtContext, timeout time.Duration) persistence.ImportsRepo {
	return &importsRepo{db: db, timeout: timeout}
}

func (r *importsRepo) CreateJob(ctx context.Context, j *domain.ImportJob) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if j.Status == "" {
		j.Status = domain.ImportPending
	}

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO import_job (source_path, status, total_urls)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		j.SourcePath, j.Status, j.TotalURLs).Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		return mapErr("create import job", err)
	}
	return nil
}

func (r *importsRepo) StartJob(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE import_job SET status = $2, started_at = now() WHERE id = $1`,
		id, domain.ImportRunning)
	if err != nil {
		return mapErr("start import job", err)
	}
	return requireAffected("start import job", res)
}

func (r *importsRepo) CompleteJob(ctx context.Context, j *domain.ImportJob) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE import_job SET
			status = $2, listings_created = $3, listings_updated = $4,
			failed = $5, error = $6, completed_at = now()
		 WHERE id = $1`,
		j.ID, j.Status, j.ListingsCreated, j.ListingsUpdated, j.Failed, j.Error)
	if err != nil {
		return mapErr("complete import job", err)
	}
	return requireAffected("complete import job", res)
}

func (r *importsRepo) GetJob(ctx context.Context, id int64) (*domain.ImportJob, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var j domain.ImportJob
	err := sqlx.GetContext(ctx, r.db, &j,
		`SELECT id, source_path, status, total_urls, listings_created,
			listings_updated, failed, error, started_at, completed_at, created_at
		 FROM import_job WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get import job", err)
	}
	return &j, nil
}

func (r *importsRepo) RecordTaskRun(ctx context.Context, t *domain.TaskRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO task_run (import_job_id, task_type, reference, status,
			listing_id, error_kind, error_message, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		t.ImportJobID, t.TaskType, t.Reference, t.Status, t.ListingID,
		t.ErrorKind, t.ErrorMessage, t.StartedAt, t.FinishedAt).Scan(&t.ID)
	if err != nil {
		return mapErr("record task run", err)
	}
	return nil
}
