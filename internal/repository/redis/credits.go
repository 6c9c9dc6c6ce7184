package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const creditsPrefix = "credits:"

// ErrNoCredits is returned when a session has used its whole allowance
var ErrNoCredits = errors.New("no credits remaining")

// CreditLedger counts messages sent per session against a fixed allowance
type CreditLedger struct {
	client *Client
	ttl    time.Duration
}

// NewCreditLedger creates a ledger whose counters expire after ttl
func NewCreditLedger(client *Client, ttl time.Duration) *CreditLedger {
	return &CreditLedger{client: client, ttl: ttl}
}

// Use spends one credit for key. It returns the credits left afterwards and
// ErrNoCredits, without spending, when the allowance is exhausted.
func (l *CreditLedger) Use(ctx context.Context, key string, allowance int) (int, error) {
	fullKey := creditsPrefix + key

	pipe := l.client.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	if l.ttl > 0 {
		pipe.ExpireNX(ctx, fullKey, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to spend credit: %w", err)
	}

	used := incrCmd.Val()
	if used > int64(allowance) {
		// Give the over-count back so Remaining stays at zero rather than negative
		if err := l.client.rdb.Decr(ctx, fullKey).Err(); err != nil {
			return 0, fmt.Errorf("failed to release credit: %w", err)
		}
		return 0, ErrNoCredits
	}

	return allowance - int(used), nil
}

// Remaining reports the credits left for key
func (l *CreditLedger) Remaining(ctx context.Context, key string, allowance int) (int, error) {
	used, err := l.client.rdb.Get(ctx, creditsPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return allowance, nil
		}
		return 0, fmt.Errorf("failed to read credits: %w", err)
	}

	remaining := allowance - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset restores the full allowance for key
func (l *CreditLedger) Reset(ctx context.Context, key string) error {
	return l.client.rdb.Del(ctx, creditsPrefix+key).Err()
}
