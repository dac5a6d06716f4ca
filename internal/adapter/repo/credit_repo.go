package repo

import (
	"context"
	"fmt"

	"caricature/internal/domain"
	"caricature/internal/infra"
	"caricature/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger backed by the user_credits
// table.
type CreditLedgerPG struct {
	sql            infra.SQLExecutor
	initialCredits int
}

// NewCreditLedger creates a ledger that provisions initialCredits for owners
// it has not seen before.
func NewCreditLedger(sql infra.SQLExecutor, initialCredits int) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql, initialCredits: initialCredits}
}

// Balance returns the owner's credits.
func (l *CreditLedgerPG) Balance(ctx context.Context, ownerID string) (int, error) {
	var credits int
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectOrProvisionCredits, ownerID, l.initialCredits).Scan(&credits); err != nil {
		return 0, fmt.Errorf("select credits: %w", err)
	}
	return credits, nil
}

// Decrement consumes a single credit for jobID, at most once per job.
func (l *CreditLedgerPG) Decrement(ctx context.Context, ownerID, jobID string) (int, error) {
	var (
		alreadyCharged bool
		charged        *int32
		current        *int32
	)
	row := l.sql.QueryRow(ctx, sqlinline.QDecrementCredits, ownerID, jobID)
	if err := row.Scan(&alreadyCharged, &charged, &current); err != nil {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
	switch {
	case charged != nil:
		return int(*charged), nil
	case alreadyCharged && current != nil:
		return int(*current), nil
	case alreadyCharged:
		return 0, nil
	}
	return 0, domain.ErrInsufficientCredit
}

// SetBalance overwrites the owner's credits.
func (l *CreditLedgerPG) SetBalance(ctx context.Context, ownerID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("set credits: negative balance %d", credits)
	}
	if _, err := l.sql.Exec(ctx, sqlinline.QSetCredits, ownerID, credits); err != nil {
		return fmt.Errorf("set credits: %w", err)
	}
	return nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
