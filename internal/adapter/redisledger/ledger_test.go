package redisledger

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"caricature/internal/domain"
)

func newTestLedger(t *testing.T, initialCredits int) *Ledger {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	ledger := New(client, initialCredits, WithKeyPrefix("caricature-test:"+uuid.NewString()+":"))
	if err := ledger.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return ledger
}

func TestLedgerProvisionsInitialCredits(t *testing.T) {
	ledger := newTestLedger(t, 2)
	got, err := ledger.Balance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if got != 2 {
		t.Fatalf("balance = %d, want 2", got)
	}
}

func TestLedgerDecrementFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1)
	if b, err := ledger.Decrement(ctx, "owner-1", "job-1"); err != nil || b != 0 {
		t.Fatalf("Decrement = %d, %v", b, err)
	}
	if _, err := ledger.Decrement(ctx, "owner-1", "job-2"); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if b, _ := ledger.Balance(ctx, "owner-1"); b != 0 {
		t.Fatalf("balance went negative: %d", b)
	}
}

func TestLedgerDecrementChargesJobOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 2)
	for i := 0; i < 3; i++ {
		if b, err := ledger.Decrement(ctx, "owner-1", "job-1"); err != nil || b != 1 {
			t.Fatalf("Decrement #%d = %d, %v", i, b, err)
		}
	}
	if b, err := ledger.Decrement(ctx, "owner-1", "job-2"); err != nil || b != 0 {
		t.Fatalf("Decrement for a second job = %d, %v", b, err)
	}
	if b, err := ledger.Decrement(ctx, "owner-1", "job-2"); err != nil || b != 0 {
		t.Fatalf("repeated Decrement on empty balance = %d, %v", b, err)
	}
}

func TestLedgerSetBalanceRejectsNegative(t *testing.T) {
	// The guard runs before the client is touched.
	if err := New(nil, 1).SetBalance(context.Background(), "owner-1", -1); err == nil {
		t.Fatalf("negative balance accepted")
	}
}

func TestLedgerKeyPrefix(t *testing.T) {
	l := New(nil, 1, WithKeyPrefix("p:"))
	if got := l.key("abc"); got != "p:credits:abc" {
		t.Fatalf("key = %q", got)
	}
	if got := l.chargeKey("job-1"); got != "p:charged:job-1" {
		t.Fatalf("charge key = %q", got)
	}
	if got := New(nil, 1).key("abc"); got != defaultKeyPrefix+"credits:abc" {
		t.Fatalf("default key = %q", got)
	}
}
