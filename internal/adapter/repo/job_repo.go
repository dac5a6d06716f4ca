package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"caricature/internal/domain"
	"caricature/internal/infra"
	"caricature/internal/sqlinline"
)

const pgUniqueViolation = "23505"

// JobRepositoryPG implements domain.JobStore and domain.Finalizer on
// PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql, now: time.Now}
}

// Create inserts a new job in the created state. The partial unique index on
// active generations turns a second active job into ErrActiveJobExists.
func (r *JobRepositoryPG) Create(ctx context.Context, job domain.NewJob) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		job.OwnerID,
		job.Subject,
		job.InputImage,
		job.StyleImage,
		job.StyleName,
	)
	created, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrActiveJobExists
		}
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return created, nil
}

// Update validates the transition against the stored row and writes it
// guarded by the status that was read, so concurrent writers cannot
// interleave.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	next := *current
	if err := update.Apply(&next, r.now()); err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateGeneration,
		jobID,
		string(next.Status),
		next.PollHandle,
		next.OutputImage,
		next.ErrorMessage,
		string(current.Status),
	)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// FindActive returns the most recent created/dispatched job of the owner.
func (r *JobRepositoryPG) FindActive(ctx context.Context, ownerID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectActiveGeneration, ownerID))
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectGeneration, jobID))
}

// CompleteAndCharge consumes a credit and completes the job in one statement.
func (r *JobRepositoryPG) CompleteAndCharge(ctx context.Context, jobID, ownerID, output string) (int, error) {
	if output == "" {
		return 0, domain.ErrInvalidTransition
	}
	row := r.sql.QueryRow(ctx, sqlinline.QCompleteAndCharge, jobID, ownerID, output)
	var (
		targets   int64
		balance   *int32
		completed int64
	)
	if err := row.Scan(&targets, &balance, &completed); err != nil {
		return 0, fmt.Errorf("complete generation: %w", err)
	}
	switch {
	case targets == 0:
		return 0, domain.ErrStatusConflict
	case balance == nil:
		return 0, domain.ErrInsufficientCredit
	case completed == 0:
		return 0, domain.ErrStatusConflict
	}
	return int(*balance), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Subject,
		&job.InputImage,
		&job.StyleImage,
		&job.StyleName,
		&job.PollHandle,
		&job.OutputImage,
		&status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

var (
	_ domain.JobStore  = (*JobRepositoryPG)(nil)
	_ domain.Finalizer = (*JobRepositoryPG)(nil)
)
