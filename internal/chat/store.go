// Package chat holds the per-session conversation store: an ordered,
// in-memory collection of conversations kept in sync with the remote store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/Rrens/healthchat/internal/prompt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GuestConversationID identifies the single local conversation of a guest session
const GuestConversationID = "guest-conversation"

// Scheduler runs fn once after d has elapsed
type Scheduler func(d time.Duration, fn func())

func afterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Option configures a Store
type Option func(*Store)

// WithScheduler replaces the timer used for assistant replies
func WithScheduler(schedule Scheduler) Option {
	return func(s *Store) { s.schedule = schedule }
}

// WithClock replaces time.Now for message and conversation timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the uuid generator for conversation and message IDs
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithMetrics records sent messages on m
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPrompts shares an existing prompt catalog with the store
func WithPrompts(catalog *prompt.Catalog) Option {
	return func(s *Store) { s.prompts = catalog }
}

// Store is the conversation cache of one session.
// State is guarded by mu; remote calls are always made without holding it.
type Store struct {
	session       Session
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	prompts       *prompt.Catalog
	cfg           config.ChatConfig
	metrics       *metrics.Collector

	schedule Scheduler
	now      func() time.Time
	newID    func() string
	pending  sync.WaitGroup

	mu       sync.Mutex
	convs    []*domain.Conversation
	activeID string
	settings Settings
	// loaded holds the conversations whose messages have been fetched,
	// or that are known to start empty
	loaded map[string]bool
	// written maps a message ID to the sequence number of its latest local
	// change, so a fetch that started earlier cannot remove it
	written  map[string]uint64
	writeSeq uint64
}

// NewStore creates the store of a session. Guest stores start with one
// local conversation and never touch the repositories.
func NewStore(
	session Session,
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	cfg config.ChatConfig,
	opts ...Option,
) *Store {
	s := &Store{
		session:       session,
		conversations: conversations,
		messages:      messages,
		cfg:           cfg,
		schedule:      afterFunc,
		now:           time.Now,
		newID:         uuid.NewString,
		settings:      Settings{Model: cfg.DefaultModel},
		loaded:        make(map[string]bool),
		written:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompts == nil {
		s.prompts = prompt.NewCatalog()
	}

	if !session.Authenticated {
		now := s.now()
		s.convs = []*domain.Conversation{{
			ID:        GuestConversationID,
			Title:     cfg.DefaultTitle,
			UserID:    domain.GuestUserID,
			Messages:  []domain.Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.activeID = GuestConversationID
		s.loaded[GuestConversationID] = true
	}

	return s
}

// Session returns the session the store belongs to
func (s *Store) Session() Session {
	return s.session
}

// Prompts returns the session's system prompt catalog
func (s *Store) Prompts() *prompt.Catalog {
	return s.prompts
}

// LoadConversations replaces the local collection with the owner's remote
// conversations, most recently updated first, then loads the messages of the
// active one. Messages already held for a surviving conversation are kept.
func (s *Store) LoadConversations(ctx context.Context) error {
	if !s.session.Authenticated {
		return nil
	}

	remote, err := s.conversations.ListByUser(ctx, s.session.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", s.session.UserID).Msg("failed to load conversations")
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	s.mu.Lock()
	existing := make(map[string]*domain.Conversation, len(s.convs))
	for _, c := range s.convs {
		existing[c.ID] = c
	}

	convs := make([]*domain.Conversation, 0, len(remote))
	for i := range remote {
		c := remote[i]
		if prev, ok := existing[c.ID]; ok {
			c.Messages = prev.Messages
			delete(existing, c.ID)
		}
		if c.Messages == nil {
			c.Messages = []domain.Message{}
		}
		convs = append(convs, &c)
	}

	// A conversation missing from the snapshot survives only while it still
	// holds unsynced messages; the listing may predate its insert.
	var unsynced []*domain.Conversation
	for _, c := range s.convs {
		if _, ok := existing[c.ID]; ok && hasPending(c.Messages) {
			unsynced = append(unsynced, c)
		}
	}
	s.convs = append(unsynced, convs...)

	loaded := make(map[string]bool, len(s.convs))
	for _, c := range s.convs {
		if s.loaded[c.ID] {
			loaded[c.ID] = true
		}
	}
	s.loaded = loaded

	if s.indexOf(s.activeID) < 0 {
		s.activeID = ""
		if len(s.convs) > 0 {
			s.activeID = s.convs[0].ID
		}
	}
	activeID := s.activeID
	s.mu.Unlock()

	log.Debug().
		Str("user_id", s.session.UserID).
		Int("count", len(remote)).
		Msg("conversations loaded")

	if activeID == "" {
		return nil
	}
	return s.LoadMessages(ctx, activeID)
}

// LoadMessages fetches a conversation's messages and merges them into the
// local copy. Messages still pending, or written locally after the fetch
// started, are kept.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) error {
	if !s.session.Authenticated {
		return nil
	}

	s.mu.Lock()
	if s.indexOf(conversationID) < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	since := s.writeSeq
	s.mu.Unlock()

	remote, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load messages")
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		// deleted while the fetch was in flight
		return nil
	}

	recent := make(map[string]bool)
	for _, m := range conv.Messages {
		if seq, ok := s.written[m.ID]; ok {
			if seq > since {
				recent[m.ID] = true
			} else {
				delete(s.written, m.ID)
			}
		}
	}
	conv.Messages = mergeMessages(conv.Messages, remote, recent)
	s.loaded[conversationID] = true
	return nil
}

// CreateConversation inserts a conversation with the default title, prepends
// it and makes it active.
func (s *Store) CreateConversation(ctx context.Context) (domain.Conversation, error) {
	if !s.session.Authenticated {
		return domain.Conversation{}, ErrGuestSession
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        s.newID(),
		Title:     s.cfg.DefaultTitle,
		UserID:    s.session.UserID,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		log.Error().Err(err).Str("user_id", s.session.UserID).Msg("failed to create conversation")
		return domain.Conversation{}, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = append([]*domain.Conversation{conv}, s.convs...)
	s.activeID = conv.ID
	s.loaded[conv.ID] = true
	return conv.Clone(), nil
}

// RenameConversation updates the title remotely, scoped to the owner, then locally
func (s *Store) RenameConversation(ctx context.Context, id, title string) (domain.Conversation, error) {
	if !s.session.Authenticated {
		return domain.Conversation{}, ErrGuestSession
	}
	if !s.has(id) {
		return domain.Conversation{}, ErrConversationNotFound
	}

	if err := s.conversations.UpdateTitle(ctx, id, s.session.UserID, title); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, ErrConversationNotFound
		}
		log.Error().Err(err).Str("conversation_id", id).Msg("failed to rename conversation")
		return domain.Conversation{}, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(id)
	if conv == nil {
		return domain.Conversation{}, ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	return conv.Clone(), nil
}

// DeleteConversation removes a conversation remotely, scoped to the owner,
// then locally. Deleting the active conversation selects the first remaining
// one; deleting the last one creates a fresh conversation.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if !s.session.Authenticated {
		return ErrGuestSession
	}
	if !s.has(id) {
		return ErrConversationNotFound
	}

	// ErrNotFound means the row is already gone remotely
	if err := s.conversations.Delete(ctx, id, s.session.UserID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Str("conversation_id", id).Msg("failed to delete conversation")
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		for _, m := range s.convs[i].Messages {
			delete(s.written, m.ID)
		}
		s.convs = slices.Delete(s.convs, i, i+1)
	}
	delete(s.loaded, id)
	empty := len(s.convs) == 0
	var selected string
	if s.activeID == id {
		s.activeID = ""
		if !empty {
			s.activeID = s.convs[0].ID
			selected = s.activeID
		}
	}
	s.mu.Unlock()

	if empty {
		_, err := s.CreateConversation(ctx)
		return err
	}
	if selected != "" {
		// failures are logged by LoadMessages; the selection stands either way
		_ = s.LoadMessages(ctx, selected)
	}
	return nil
}

// SendMessage appends a user message, persists it for signed-in users and
// schedules the assistant reply. An empty conversationID targets the active
// conversation. The returned message reflects the outcome of the remote
// insert: confirmed on success, still pending when it failed.
//
// The title is derived from the message only when the conversation is known
// to be empty. History that has not been fetched yet is loaded first; if
// that fails the stored title is left alone.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	conversationID, loaded, err := s.target(conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !loaded {
		if err := s.LoadMessages(ctx, conversationID); err != nil && !errors.Is(err, ErrSyncFailed) {
			return domain.Message{}, err
		}
	}

	s.mu.Lock()
	conv := s.find(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return domain.Message{}, ErrConversationNotFound
	}

	msg := domain.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		Content:        content,
		IsUser:         true,
		Status:         s.initialStatus(),
		CreatedAt:      s.now(),
	}
	first := len(conv.Messages) == 0 && s.loaded[conv.ID]
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	s.touch(msg.ID)
	if first {
		conv.Title = DeriveTitle(content, s.cfg.TitleLength)
	}
	title := conv.Title
	model := s.settings.Model
	s.mu.Unlock()

	s.metrics.MessageSent(true)

	if s.session.Authenticated {
		msg.Status = s.persist(ctx, msg)
		if first {
			if err := s.conversations.UpdateTitle(ctx, conversationID, s.session.UserID, title); err != nil {
				log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to save conversation title")
			}
		}
	}

	s.scheduleReply(ctx, conversationID, content, model)
	return msg, nil
}

// Select makes id the active conversation and refreshes its messages.
// A failed refresh is logged and the selection stands.
func (s *Store) Select(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.activeID = id
	s.mu.Unlock()

	if err := s.LoadMessages(ctx, id); err != nil && !errors.Is(err, ErrSyncFailed) {
		return err
	}
	return nil
}

// Active returns the active conversation, if any
func (s *Store) Active() (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(s.activeID)
	if conv == nil {
		return domain.Conversation{}, false
	}
	return conv.Clone(), true
}

// ActiveID returns the ID of the active conversation, empty when there is none
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Conversations returns a snapshot of the collection in display order
func (s *Store) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

func (s *Store) Conversation(id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(id)
	if conv == nil {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// Search filters conversations by a case-insensitive title match.
// A blank query returns every conversation.
func (s *Store) Search(query string) []domain.Conversation {
	query = strings.ToLower(strings.TrimSpace(query))
	all := s.Conversations()
	if query == "" {
		return all
	}

	out := make([]domain.Conversation, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Title), query) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Store) UpdateSettings(patch SettingsPatch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = s.settings.apply(patch)
	return s.settings
}

// Wait blocks until every scheduled assistant reply has been applied
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) scheduleReply(ctx context.Context, conversationID, content, model string) {
	var active *prompt.SystemPrompt
	if p, ok := s.prompts.Active(); ok {
		active = &p
	}
	text := composeReply(content, active)

	// the reply outlives the request that triggered it
	ctx = context.WithoutCancel(ctx)

	s.pending.Add(1)
	s.schedule(s.cfg.ReplyDelay, func() {
		defer s.pending.Done()
		s.reply(ctx, conversationID, text, model)
	})
}

func (s *Store) reply(ctx context.Context, conversationID, text, model string) {
	msg := domain.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		Content:        text,
		IsUser:         false,
		Model:          model,
		Status:         s.initialStatus(),
		CreatedAt:      s.now(),
	}

	s.mu.Lock()
	conv := s.find(conversationID)
	if conv == nil {
		s.mu.Unlock()
		log.Debug().Str("conversation_id", conversationID).Msg("conversation removed before reply")
		return
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	s.touch(msg.ID)
	s.mu.Unlock()

	s.metrics.MessageSent(false)

	if s.session.Authenticated {
		s.persist(ctx, msg)
	}
}

// persist inserts msg remotely and marks the local copy confirmed on success
func (s *Store) persist(ctx context.Context, msg domain.Message) domain.MessageStatus {
	if err := s.messages.Create(ctx, &msg); err != nil {
		log.Error().
			Err(err).
			Str("conversation_id", msg.ConversationID).
			Str("message_id", msg.ID).
			Msg("failed to save message")
		return domain.StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv := s.find(msg.ConversationID); conv != nil {
		for i := range conv.Messages {
			if conv.Messages[i].ID == msg.ID {
				conv.Messages[i].Status = domain.StatusConfirmed
				s.touch(msg.ID)
				break
			}
		}
	}
	return domain.StatusConfirmed
}

// target resolves an empty conversationID to the active conversation and
// reports whether its messages have been loaded
func (s *Store) target(conversationID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == "" {
		conversationID = s.activeID
	}
	if conversationID == "" {
		return "", false, ErrNoActiveConversation
	}
	if s.indexOf(conversationID) < 0 {
		return "", false, ErrConversationNotFound
	}
	return conversationID, s.loaded[conversationID], nil
}

// touch records a local change to a message of a signed-in session.
// Callers hold mu.
func (s *Store) touch(messageID string) {
	if !s.session.Authenticated {
		return
	}
	s.writeSeq++
	s.written[messageID] = s.writeSeq
}

func (s *Store) initialStatus() domain.MessageStatus {
	if s.session.Authenticated {
		return domain.StatusPending
	}
	return domain.StatusLocal
}

func (s *Store) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

func (s *Store) find(id string) *domain.Conversation {
	if i := s.indexOf(id); i >= 0 {
		return s.convs[i]
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.convs, func(c *domain.Conversation) bool { return c.ID == id })
}

func hasPending(messages []domain.Message) bool {
	return slices.ContainsFunc(messages, func(m domain.Message) bool {
		return m.Status == domain.StatusPending
	})
}
