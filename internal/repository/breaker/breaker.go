// Package breaker guards remote store calls with a circuit breaker, a
// per-call timeout and Prometheus instrumentation.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Guard wraps remote calls in a shared circuit breaker
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *metrics.Collector
}

// NewGuard creates a guard. A zero timeout leaves the caller's deadline alone.
func NewGuard(name string, cfg config.BreakerConfig, timeout time.Duration, m *metrics.Collector) *Guard {
	g := &Guard{timeout: timeout, metrics: m}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			m.SetBreakerState(name, int(to))
		},
		// A missing row or a caller giving up says nothing about remote health
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
	return g
}

// State reports the breaker state
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) do(ctx context.Context, operation, table string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	g.metrics.ObserveRemote(operation, table, err, time.Since(start))
	return err
}

// ConversationRepository guards a domain.ConversationRepository
type ConversationRepository struct {
	next  domain.ConversationRepository
	guard *Guard
}

// NewConversationRepository wraps next with the guard
func NewConversationRepository(next domain.ConversationRepository, guard *Guard) *ConversationRepository {
	return &ConversationRepository{next: next, guard: guard}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	return r.guard.do(ctx, "create", "conversations", func(ctx context.Context) error {
		return r.next.Create(ctx, conversation)
	})
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := r.guard.do(ctx, "list", "conversations", func(ctx context.Context) error {
		var err error
		out, err = r.next.ListByUser(ctx, userID)
		return err
	})
	return out, err
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, userID, title string) error {
	return r.guard.do(ctx, "update", "conversations", func(ctx context.Context) error {
		return r.next.UpdateTitle(ctx, id, userID, title)
	})
}

func (r *ConversationRepository) Delete(ctx context.Context, id, userID string) error {
	return r.guard.do(ctx, "delete", "conversations", func(ctx context.Context) error {
		return r.next.Delete(ctx, id, userID)
	})
}

// MessageRepository guards a domain.MessageRepository
type MessageRepository struct {
	next  domain.MessageRepository
	guard *Guard
}

// NewMessageRepository wraps next with the guard
func NewMessageRepository(next domain.MessageRepository, guard *Guard) *MessageRepository {
	return &MessageRepository{next: next, guard: guard}
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	return r.guard.do(ctx, "create", "messages", func(ctx context.Context) error {
		return r.next.Create(ctx, message)
	})
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := r.guard.do(ctx, "list", "messages", func(ctx context.Context) error {
		var err error
		out, err = r.next.ListByConversation(ctx, conversationID)
		return err
	})
	return out, err
}
