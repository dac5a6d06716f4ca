// Package sqlite stores jobs and credits in a local SQLite database. It is
// the single-node backend used by the CLI and small deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"caricature/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	subject       TEXT NOT NULL,
	input_image   TEXT NOT NULL,
	style_image   TEXT NOT NULL,
	style_name    TEXT NOT NULL DEFAULT '',
	poll_handle   TEXT NOT NULL DEFAULT '',
	output_image  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS generations_one_active_per_owner
	ON generations(owner_id) WHERE status IN ('created', 'dispatched');
CREATE INDEX IF NOT EXISTS generations_owner_created_at
	ON generations(owner_id, created_at);
CREATE TABLE IF NOT EXISTS user_credits (
	owner_id   TEXT PRIMARY KEY,
	credits    INTEGER NOT NULL CHECK (credits >= 0),
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS credit_charges (
	job_id     TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	charged_at TEXT NOT NULL
);
`

const jobColumns = `id, owner_id, subject, input_image, style_image, style_name, poll_handle, output_image, status, error_message, created_at, updated_at`

// Store implements domain.JobStore, domain.CreditLedger and domain.Finalizer.
type Store struct {
	db             *sql.DB
	initialCredits int
	now            func() time.Time
}

// Open opens (and creates) the database at path and applies the schema.
func Open(path string, initialCredits int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, initialCredits: initialCredits, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetBalance overwrites an owner's balance.
func (s *Store) SetBalance(ctx context.Context, ownerID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("sqlite: negative balance %d", credits)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credits (owner_id, credits, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET credits = excluded.credits, updated_at = excluded.updated_at`,
		ownerID, credits, formatTime(s.now()))
	return err
}

func (s *Store) Create(ctx context.Context, job domain.NewJob) (*domain.Job, error) {
	now := s.now()
	created := &domain.Job{
		ID:         uuid.NewString(),
		OwnerID:    job.OwnerID,
		Subject:    job.Subject,
		InputImage: job.InputImage,
		StyleImage: job.StyleImage,
		StyleName:  job.StyleName,
		Status:     domain.JobStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, '', '', ?, '', ?, ?)`,
		created.ID,
		created.OwnerID,
		created.Subject,
		created.InputImage,
		created.StyleImage,
		created.StyleName,
		string(created.Status),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, domain.ErrActiveJobExists
		}
		return nil, fmt.Errorf("sqlite: insert generation: %w", err)
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generations WHERE id = ?`, jobID))
		if err != nil {
			return err
		}
		next := *current
		if err := update.Apply(&next, s.now()); err != nil {
			return err
		}
		return writeJob(ctx, tx, &next, current.Status)
	})
}

func (s *Store) FindActive(ctx context.Context, ownerID string) (*domain.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM generations
		WHERE owner_id = ? AND status IN ('created', 'dispatched')
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, ownerID))
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generations WHERE id = ?`, jobID))
}

func (s *Store) Balance(ctx context.Context, ownerID string) (int, error) {
	var credits int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		credits, err = s.balanceTx(ctx, tx, ownerID)
		return err
	})
	return credits, err
}

func (s *Store) Decrement(ctx context.Context, ownerID, jobID string) (int, error) {
	var credits int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		credits, err = s.decrementTx(ctx, tx, ownerID, jobID)
		return err
	})
	return credits, err
}

// CompleteAndCharge decrements the balance and completes the job in one
// transaction.
func (s *Store) CompleteAndCharge(ctx context.Context, jobID, ownerID, output string) (int, error) {
	var credits int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generations WHERE id = ?`, jobID))
		if err != nil {
			return err
		}
		if current.OwnerID != ownerID {
			return domain.ErrStatusConflict
		}
		next := *current
		err = domain.JobUpdate{
			Status:       domain.StatusPtr(domain.JobStatusCompleted),
			OutputImage:  domain.StringPtr(output),
			ErrorMessage: domain.StringPtr(""),
			ExpectStatus: domain.StatusPtr(domain.JobStatusDispatched),
		}.Apply(&next, s.now())
		if err != nil {
			return err
		}
		if credits, err = s.decrementTx(ctx, tx, ownerID, jobID); err != nil {
			return err
		}
		return writeJob(ctx, tx, &next, current.Status)
	})
	return credits, err
}

func (s *Store) balanceTx(ctx context.Context, tx *sql.Tx, ownerID string) (int, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_credits (owner_id, credits, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO NOTHING`, ownerID, s.initialCredits, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("sqlite: provision credits: %w", err)
	}
	var credits int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE owner_id = ?`, ownerID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("sqlite: select credits: %w", err)
	}
	return credits, nil
}

// decrementTx charges jobID once. The charge marker and the decrement commit
// together with tx.
func (s *Store) decrementTx(ctx context.Context, tx *sql.Tx, ownerID, jobID string) (int, error) {
	credits, err := s.balanceTx(ctx, tx, ownerID)
	if err != nil {
		return 0, err
	}
	var charged int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_charges WHERE job_id = ?`, jobID).Scan(&charged); err != nil {
		return 0, fmt.Errorf("sqlite: select charge: %w", err)
	}
	if charged > 0 {
		return credits, nil
	}
	if credits <= 0 {
		return credits, domain.ErrInsufficientCredit
	}
	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, `INSERT INTO credit_charges (job_id, owner_id, charged_at) VALUES (?, ?, ?)`, jobID, ownerID, now); err != nil {
		return 0, fmt.Errorf("sqlite: record charge: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE user_credits SET credits = credits - 1, updated_at = ? WHERE owner_id = ?`, now, ownerID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: decrement credits: %w", err)
	}
	return credits - 1, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func writeJob(ctx context.Context, tx *sql.Tx, job *domain.Job, expected domain.JobStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE generations
		SET status = ?, poll_handle = ?, output_image = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(job.Status), job.PollHandle, job.OutputImage, job.ErrorMessage, formatTime(job.UpdatedAt),
		job.ID, string(expected))
	if err != nil {
		return fmt.Errorf("sqlite: update generation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: scan generation: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var (
	_ domain.JobStore     = (*Store)(nil)
	_ domain.CreditLedger = (*Store)(nil)
	_ domain.Finalizer    = (*Store)(nil)
)
