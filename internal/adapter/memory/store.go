// Package memory keeps jobs and credits in process memory. It backs the
// `memory` store backend for local runs and is the reference fake in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"caricature/internal/domain"
)

// Store implements domain.JobStore, domain.CreditLedger and domain.Finalizer.
type Store struct {
	mu             sync.Mutex
	jobs           map[string]*domain.Job
	order          []string
	credits        map[string]int
	charged        map[string]bool
	initialCredits int
	now            func() time.Time
}

// NewStore returns an empty store that provisions initialCredits for unknown
// owners.
func NewStore(initialCredits int) *Store {
	return &Store{
		jobs:           make(map[string]*domain.Job),
		credits:        make(map[string]int),
		charged:        make(map[string]bool),
		initialCredits: initialCredits,
		now:            time.Now,
	}
}

// SetBalance overwrites an owner's balance.
func (s *Store) SetBalance(ctx context.Context, ownerID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("memory: negative balance %d", credits)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[ownerID] = credits
	return nil
}

func (s *Store) Create(ctx context.Context, job domain.NewJob) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(job.OwnerID) != nil {
		return nil, domain.ErrActiveJobExists
	}
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
	s.jobs[created.ID] = created
	s.order = append(s.order, created.ID)
	out := *created
	return &out, nil
}

func (s *Store) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	next := *job
	if err := update.Apply(&next, s.now()); err != nil {
		return err
	}
	*job = next
	return nil
}

func (s *Store) FindActive(ctx context.Context, ownerID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.activeLocked(ownerID)
	if job == nil {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

// Jobs returns a snapshot of the owner's jobs in creation order.
func (s *Store) Jobs(ownerID string) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, id := range s.order {
		if job := s.jobs[id]; job.OwnerID == ownerID {
			out = append(out, *job)
		}
	}
	return out
}

func (s *Store) Balance(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(ownerID), nil
}

func (s *Store) Decrement(ctx context.Context, ownerID, jobID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(ownerID, jobID)
}

func (s *Store) CompleteAndCharge(ctx context.Context, jobID, ownerID, output string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if job.OwnerID != ownerID {
		return 0, domain.ErrStatusConflict
	}
	next := *job
	err := domain.JobUpdate{
		Status:       domain.StatusPtr(domain.JobStatusCompleted),
		OutputImage:  domain.StringPtr(output),
		ErrorMessage: domain.StringPtr(""),
		ExpectStatus: domain.StatusPtr(domain.JobStatusDispatched),
	}.Apply(&next, s.now())
	if err != nil {
		return 0, err
	}
	balance, err := s.decrementLocked(ownerID, jobID)
	if err != nil {
		return 0, err
	}
	*job = next
	return balance, nil
}

func (s *Store) activeLocked(ownerID string) *domain.Job {
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job.OwnerID == ownerID && job.Status.IsActive() {
			return job
		}
	}
	return nil
}

func (s *Store) balanceLocked(ownerID string) int {
	credits, ok := s.credits[ownerID]
	if !ok {
		credits = s.initialCredits
		s.credits[ownerID] = credits
	}
	return credits
}

func (s *Store) decrementLocked(ownerID, jobID string) (int, error) {
	credits := s.balanceLocked(ownerID)
	if s.charged[jobID] {
		return credits, nil
	}
	if credits <= 0 {
		return credits, domain.ErrInsufficientCredit
	}
	credits--
	s.credits[ownerID] = credits
	s.charged[jobID] = true
	return credits, nil
}

var (
	_ domain.JobStore     = (*Store)(nil)
	_ domain.CreditLedger = (*Store)(nil)
	_ domain.Finalizer    = (*Store)(nil)
)
