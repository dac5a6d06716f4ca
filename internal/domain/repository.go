package domain

import "context"

// JobStore persists generation jobs.
type JobStore interface {
	Create(ctx context.Context, job NewJob) (*Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) error
	// FindActive returns the owner's most recent job in ActiveStatuses, or
	// ErrNotFound.
	FindActive(ctx context.Context, ownerID string) (*Job, error)
	Get(ctx context.Context, jobID string) (*Job, error)
}

// CreditLedger holds the per-owner credit balance.
type CreditLedger interface {
	Balance(ctx context.Context, ownerID string) (int, error)
	// Decrement consumes one credit for jobID and returns the new balance. A
	// job is charged at most once: repeating the call for a charged job
	// returns the current balance unchanged. It returns ErrInsufficientCredit
	// instead of going below zero.
	Decrement(ctx context.Context, ownerID, jobID string) (int, error)
}

// Finalizer is implemented by backends that keep jobs and credits in the same
// transactional store. CompleteAndCharge consumes one credit and marks the
// job Completed with output in a single unit: either both happen or neither.
// It returns ErrStatusConflict when the job is no longer Dispatched and
// ErrInsufficientCredit when the balance is zero.
type Finalizer interface {
	CompleteAndCharge(ctx context.Context, jobID, ownerID, output string) (int, error)
}
