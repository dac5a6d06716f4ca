package memory

import (
	"context"
	"errors"
	"testing"

	"caricature/internal/domain"
)

func newJob(owner string) domain.NewJob {
	return domain.NewJob{OwnerID: owner, Subject: "Alex", InputImage: "https://in/face.png", StyleImage: "https://styles/elf.png"}
}

func TestStoreAllowsOneActiveJobPerOwner(t *testing.T) {
	ctx := context.Background()
	store := NewStore(1)
	first, err := store.Create(ctx, newJob("owner-1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create(ctx, newJob("owner-1")); !errors.Is(err, domain.ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
	if _, err := store.Create(ctx, newJob("owner-2")); err != nil {
		t.Fatalf("other owners are independent: %v", err)
	}

	active, err := store.FindActive(ctx, "owner-1")
	if err != nil || active.ID != first.ID {
		t.Fatalf("FindActive = %+v, %v", active, err)
	}

	err = store.Update(ctx, first.ID, domain.JobUpdate{Status: domain.StatusPtr(domain.JobStatusDispatched), PollHandle: domain.StringPtr("h")})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	err = store.Update(ctx, first.ID, domain.JobUpdate{Status: domain.StatusPtr(domain.JobStatusFailed), ErrorMessage: domain.StringPtr("boom")})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if _, err := store.FindActive(ctx, "owner-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no active job, got %v", err)
	}
	if _, err := store.Create(ctx, newJob("owner-1")); err != nil {
		t.Fatalf("new job after terminal one: %v", err)
	}
	if got := len(store.Jobs("owner-1")); got != 2 {
		t.Fatalf("expected job history of 2, got %d", got)
	}
}

func TestStoreCompleteAndChargeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore(0)
	job, _ := store.Create(ctx, newJob("owner-1"))
	_ = store.Update(ctx, job.ID, domain.JobUpdate{Status: domain.StatusPtr(domain.JobStatusDispatched), PollHandle: domain.StringPtr("h")})

	if _, err := store.CompleteAndCharge(ctx, job.ID, "owner-1", "https://out.png"); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.JobStatusDispatched || got.OutputImage != "" {
		t.Fatalf("job must stay dispatched without output: %+v", got)
	}

	_ = store.SetBalance(ctx, "owner-1", 1)
	balance, err := store.CompleteAndCharge(ctx, job.ID, "owner-1", "https://out.png")
	if err != nil {
		t.Fatalf("CompleteAndCharge error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	if _, err := store.CompleteAndCharge(ctx, job.ID, "owner-1", "https://out.png"); !errors.Is(err, domain.ErrStatusConflict) {
		t.Fatalf("second completion must conflict, got %v", err)
	}
	if b, _ := store.Balance(ctx, "owner-1"); b != 0 {
		t.Fatalf("balance changed by conflicting completion: %d", b)
	}
}

func TestStoreDecrementNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewStore(1)
	if b, err := store.Decrement(ctx, "owner-1", "job-1"); err != nil || b != 0 {
		t.Fatalf("Decrement = %d, %v", b, err)
	}
	if _, err := store.Decrement(ctx, "owner-1", "job-2"); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if b, _ := store.Balance(ctx, "owner-1"); b != 0 {
		t.Fatalf("balance went negative: %d", b)
	}
}

func TestStoreDecrementChargesJobOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(3)
	for i := 0; i < 3; i++ {
		if b, err := store.Decrement(ctx, "owner-1", "job-1"); err != nil || b != 2 {
			t.Fatalf("Decrement #%d = %d, %v", i, b, err)
		}
	}
	if b, err := store.Decrement(ctx, "owner-1", "job-2"); err != nil || b != 1 {
		t.Fatalf("Decrement for a second job = %d, %v", b, err)
	}
}
