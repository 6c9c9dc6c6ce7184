package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/repository/redis"
	"github.com/rs/zerolog/log"
)

// CreditLedger meters messages per session key
type CreditLedger interface {
	Use(ctx context.Context, key string, allowance int) (int, error)
	Remaining(ctx context.Context, key string, allowance int) (int, error)
	Reset(ctx context.Context, key string) error
}

// Credits applies the per-session message allowance. A nil ledger or a
// disabled config turns metering off.
type Credits struct {
	ledger CreditLedger
	cfg    config.CreditsConfig
}

// NewCredits creates the credits meter
func NewCredits(ledger CreditLedger, cfg config.CreditsConfig) *Credits {
	return &Credits{ledger: ledger, cfg: cfg}
}

func (c *Credits) enabled() bool {
	return c != nil && c.ledger != nil && c.cfg.Enabled
}

func (c *Credits) allowance(session chat.Session) int {
	if session.Authenticated {
		return c.cfg.User
	}
	return c.cfg.Guest
}

// Spend uses one credit. It returns redis.ErrNoCredits when none are left
// and nil remaining when metering is off. Ledger failures let the message
// through.
func (c *Credits) Spend(ctx context.Context, session chat.Session) (*int, error) {
	if !c.enabled() {
		return nil, nil
	}

	remaining, err := c.ledger.Use(ctx, session.Scope(), c.allowance(session))
	if err != nil {
		if errors.Is(err, redis.ErrNoCredits) {
			return nil, err
		}
		log.Error().Err(err).Str("session", session.Scope()).Msg("failed to spend credit")
		return nil, nil
	}
	return &remaining, nil
}

// ResetUser restores the full allowance of a user, as signing in does
func (c *Credits) ResetUser(ctx context.Context, userID string) {
	if !c.enabled() {
		return
	}
	session := chat.Session{Key: userID, Authenticated: true}
	if err := c.ledger.Reset(ctx, session.Scope()); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to reset credits")
	}
}

// Get returns the session's remaining credits
func (c *Credits) Get(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	if !c.enabled() {
		response.OK(w, map[string]any{"enabled": false})
		return
	}

	session := store.Session()
	allowance := c.allowance(session)
	remaining, err := c.ledger.Remaining(r.Context(), session.Scope(), allowance)
	if err != nil {
		log.Error().Err(err).Str("session", session.Scope()).Msg("failed to read credits")
		response.InternalError(w, "failed to read credits")
		return
	}

	response.OK(w, map[string]any{
		"enabled":   true,
		"remaining": remaining,
		"allowance": allowance,
	})
}
