package chat

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/rs/zerolog/log"
)

type registryEntry struct {
	store    *Store
	once     sync.Once
	lastSeen time.Time
}

// Registry owns one Store per session. Sessions idle for longer than
// ChatConfig.SessionIdleTTL are evicted by Sweep.
type Registry struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	cfg           config.ChatConfig
	metrics       *metrics.Collector
	opts          []Option
	now           func() time.Time

	mu       sync.Mutex
	entries  map[string]*registryEntry
	draining sync.WaitGroup
}

// NewRegistry creates a new session registry
func NewRegistry(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	cfg config.ChatConfig,
	m *metrics.Collector,
	opts ...Option,
) *Registry {
	return &Registry{
		conversations: conversations,
		messages:      messages,
		cfg:           cfg,
		metrics:       m,
		opts:          append([]Option{WithMetrics(m)}, opts...),
		now:           time.Now,
		entries:       make(map[string]*registryEntry),
	}
}

// ForUser returns the store of a signed-in user. The first call loads the
// user's conversations; concurrent callers wait for that load.
func (r *Registry) ForUser(ctx context.Context, identity domain.Identity) *Store {
	e := r.entry(UserSession(identity))
	e.once.Do(func() {
		// failures are logged by the store and can be retried with a reload
		_ = e.store.LoadConversations(ctx)
	})
	return e.store
}

// ForGuest returns the store of a guest session
func (r *Registry) ForGuest(guestID string) *Store {
	return r.entry(GuestSession(guestID)).store
}

// Drop forgets a session's store. Replies already scheduled still complete
// and are covered by Wait.
func (r *Registry) Drop(session Session) {
	key := session.Scope()

	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		r.release(key, e)
	}
}

// Sweep drops every session not used since now minus the idle TTL and
// returns how many were dropped. A non-positive TTL disables eviction.
func (r *Registry) Sweep(now time.Time) int {
	if r.cfg.SessionIdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.cfg.SessionIdleTTL)

	r.mu.Lock()
	idle := make(map[string]*registryEntry)
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle[key] = e
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for key, e := range idle {
		r.release(key, e)
	}
	if len(idle) > 0 {
		log.Info().Int("count", len(idle)).Msg("idle session stores evicted")
	}
	return len(idle)
}

// Run sweeps idle sessions every half TTL until ctx is done
func (r *Registry) Run(ctx context.Context) {
	if r.cfg.SessionIdleTTL <= 0 {
		return
	}

	ticker := time.NewTicker(max(r.cfg.SessionIdleTTL/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// release closes out an entry already removed from the map
func (r *Registry) release(key string, e *registryEntry) {
	r.metrics.StoreClosed()
	log.Debug().Str("session", key).Msg("session store dropped")

	r.draining.Add(1)
	go func() {
		defer r.draining.Done()
		e.store.Wait()
	}()
}

// Len returns the number of live session stores
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Wait blocks until the pending replies of every store, live or dropped, are applied
func (r *Registry) Wait() {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.entries))
	for _, e := range r.entries {
		stores = append(stores, e.store)
	}
	r.mu.Unlock()

	for _, s := range stores {
		s.Wait()
	}
	r.draining.Wait()
}

func (r *Registry) entry(session Session) *registryEntry {
	key := session.Scope()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.lastSeen = r.now()
		return e
	}

	e := &registryEntry{
		store:    NewStore(session, r.conversations, r.messages, r.cfg, r.opts...),
		lastSeen: r.now(),
	}
	r.entries[key] = e
	r.metrics.StoreOpened()
	return e
}
