package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository mocks the ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *MockConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) UpdateTitle(ctx context.Context, id, userID, title string) error {
	args := m.Called(ctx, id, userID, title)
	return args.Error(0)
}

func (m *MockConversationRepository) Delete(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

// manualScheduler queues callbacks until fire is called
type manualScheduler struct {
	mu     sync.Mutex
	fns    []func()
	delays []time.Duration
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
	s.delays = append(s.delays, d)
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func immediate(_ time.Duration, fn func()) {
	fn()
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

var testClock = func() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func testConfig() config.ChatConfig {
	return config.ChatConfig{
		ReplyDelay:   time.Second,
		TitleLength:  30,
		DefaultTitle: "New Conversation",
		DefaultModel: "GPT-4",
	}
}

var testIdentity = domain.Identity{UserID: "user-1", Email: "user@example.com"}

func newUserStore(convs *MockConversationRepository, msgs *MockMessageRepository, opts ...Option) *Store {
	base := []Option{
		WithScheduler(immediate),
		WithIDGenerator(sequentialIDs()),
		WithClock(testClock),
	}
	return NewStore(UserSession(testIdentity), convs, msgs, testConfig(), append(base, opts...)...)
}
