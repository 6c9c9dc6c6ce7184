package redis

import (
	"context"
	"fmt"
	"time"
)

const revokedPrefix = "revoked:"

// TokenRevocations remembers signed-out token IDs until the tokens expire
type TokenRevocations struct {
	client *Client
}

func NewTokenRevocations(client *Client) *TokenRevocations {
	return &TokenRevocations{client: client}
}

// Revoke marks tokenID revoked. Tokens already past until are ignored.
func (r *TokenRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.rdb.Set(ctx, revokedPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (r *TokenRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.rdb.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return n > 0, nil
}
