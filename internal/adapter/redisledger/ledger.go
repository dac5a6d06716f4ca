// Package redisledger keeps per-owner credit balances in Redis so several api
// replicas can share one ledger.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"caricature/internal/domain"
)

const (
	defaultKeyPrefix = "caricature:"

	// chargeMarkerTTL bounds how long a job's charge marker is kept. Jobs
	// reach a terminal state long before it expires.
	chargeMarkerTTL = 30 * 24 * time.Hour
)

// KEYS[1] balance, KEYS[2] charge marker of the job. A job with a marker
// returns the balance untouched; -1 signals an empty balance.
var decrementScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'NX')
local credits = tonumber(redis.call('GET', KEYS[1]))
if redis.call('EXISTS', KEYS[2]) == 1 then
	return credits
end
if credits <= 0 then
	return -1
end
redis.call('SET', KEYS[2], '1', 'EX', ARGV[2])
return redis.call('DECR', KEYS[1])
`)

// Ledger implements domain.CreditLedger.
type Ledger struct {
	client         redis.Cmdable
	prefix         string
	initialCredits int
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) { l.prefix = prefix }
}

// New returns a ledger that provisions initialCredits for unseen owners. The
// caller owns the client lifecycle.
func New(client redis.Cmdable, initialCredits int, opts ...Option) *Ledger {
	l := &Ledger{client: client, prefix: defaultKeyPrefix, initialCredits: initialCredits}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Ping verifies the Redis connection is alive.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) Balance(ctx context.Context, ownerID string) (int, error) {
	key := l.key(ownerID)
	if err := l.client.SetNX(ctx, key, l.initialCredits, 0).Err(); err != nil {
		return 0, fmt.Errorf("redis provision credits: %w", err)
	}
	credits, err := l.client.Get(ctx, key).Int()
	if err != nil {
		return 0, fmt.Errorf("redis get credits: %w", err)
	}
	return credits, nil
}

func (l *Ledger) Decrement(ctx context.Context, ownerID, jobID string) (int, error) {
	keys := []string{l.key(ownerID), l.chargeKey(jobID)}
	credits, err := decrementScript.Run(ctx, l.client, keys, l.initialCredits, int(chargeMarkerTTL/time.Second)).Int()
	if err != nil {
		return 0, fmt.Errorf("redis decrement credits: %w", err)
	}
	if credits < 0 {
		return 0, domain.ErrInsufficientCredit
	}
	return credits, nil
}

// SetBalance overwrites an owner's balance.
func (l *Ledger) SetBalance(ctx context.Context, ownerID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("redis set credits: negative balance %d", credits)
	}
	return l.client.Set(ctx, l.key(ownerID), credits, 0).Err()
}

func (l *Ledger) key(ownerID string) string {
	return l.prefix + "credits:" + ownerID
}

func (l *Ledger) chargeKey(jobID string) string {
	return l.prefix + "charged:" + jobID
}

var _ domain.CreditLedger = (*Ledger)(nil)
