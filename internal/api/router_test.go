package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/healthchat/internal/api"
	"github.com/Rrens/healthchat/internal/api/handler"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/Rrens/healthchat/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuth accepts "password123" for any email and issues "token-<email>"
type fakeAuth struct {
	mu     sync.Mutex
	tokens map[string]domain.Identity
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{tokens: map[string]domain.Identity{}}
}

func (a *fakeAuth) SignUp(_ context.Context, input domain.UserCreate) (*domain.User, error) {
	return &domain.User{Email: input.Email}, nil
}

func (a *fakeAuth) SignIn(_ context.Context, input domain.UserLogin) (*domain.TokenPair, error) {
	if input.Password != "password123" {
		return nil, domain.ErrInvalidCredentials
	}
	token := "token-" + input.Email
	a.mu.Lock()
	a.tokens[token] = domain.Identity{UserID: "user-" + input.Email, Email: input.Email}
	a.mu.Unlock()
	return &domain.TokenPair{AccessToken: token, RefreshToken: "refresh", ExpiresIn: 900}, nil
}

func (a *fakeAuth) Refresh(context.Context, string) (*domain.TokenPair, error) {
	return nil, domain.ErrInvalidToken
}

func (a *fakeAuth) Verify(_ context.Context, token string) (*domain.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	identity, ok := a.tokens[token]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &identity, nil
}

func (a *fakeAuth) SignOut(_ context.Context, token string) error {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
	return nil
}

func (a *fakeAuth) RequestPasswordReset(context.Context, string) (string, error) {
	return "reset-token", nil
}

func (a *fakeAuth) ResetPassword(_ context.Context, token, _ string) error {
	if token != "reset-token" {
		return domain.ErrInvalidToken
	}
	return nil
}

// memoryRemote is an in-memory conversations and messages store
type memoryRemote struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      []domain.Message
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{conversations: map[string]domain.Conversation{}}
}

type memoryConversations struct{ *memoryRemote }
type memoryMessages struct{ *memoryRemote }

func (m memoryConversations) Create(_ context.Context, c *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	stored.Messages = nil
	m.conversations[c.ID] = stored
	return nil
}

func (m memoryConversations) ListByUser(_ context.Context, userID string) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m memoryConversations) UpdateTitle(_ context.Context, id, userID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return domain.ErrNotFound
	}
	c.Title = title
	m.conversations[id] = c
	return nil
}

func (m memoryConversations) Delete(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m memoryMessages) Create(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m memoryMessages) ListByConversation(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// memoryLedger mirrors the redis credit ledger in memory
type memoryLedger struct {
	mu   sync.Mutex
	used map[string]int
}

func (l *memoryLedger) Use(_ context.Context, key string, allowance int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[key] >= allowance {
		return 0, redis.ErrNoCredits
	}
	l.used[key]++
	return allowance - l.used[key], nil
}

func (l *memoryLedger) Remaining(_ context.Context, key string, allowance int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return allowance - l.used[key], nil
}

func (l *memoryLedger) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.used, key)
	return nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	handler http.Handler
	auth    *fakeAuth
	remote  *memoryRemote
}

func newTestServer(t *testing.T, checks map[string]handler.Pinger) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:  config.ServerConfig{MiddlewareTimeout: 5 * time.Second},
		Credits: config.CreditsConfig{Enabled: true, User: 5, Guest: 2},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Chat: config.ChatConfig{
			TitleLength:  30,
			DefaultTitle: "New Conversation",
			DefaultModel: "GPT-4",
		},
	}

	remote := newMemoryRemote()
	m := metrics.NewCollector("test")
	registry := chat.NewRegistry(
		memoryConversations{remote},
		memoryMessages{remote},
		cfg.Chat,
		m,
		chat.WithScheduler(func(_ time.Duration, fn func()) { fn() }),
	)
	auth := newFakeAuth()

	return &testServer{
		handler: api.NewRouter(api.Dependencies{
			Config:   cfg,
			Auth:     auth,
			Registry: registry,
			Credits:  &memoryLedger{used: map[string]int{}},
			Metrics:  m,
			Checks:   checks,
		}),
		auth:   auth,
		remote: remote,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) login(t *testing.T, email string) map[string]string {
	t.Helper()

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens domain.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &tokens))
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}

type listData struct {
	Conversations []domain.Conversation `json:"conversations"`
	ActiveID      string                `json:"active_id"`
}

func TestGuestFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := s.do(t, http.MethodGet, "/api/v1/conversations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	guestID := rec.Header().Get("X-Guest-ID")
	require.NotEmpty(t, guestID)

	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, chat.GuestConversationID, list.ActiveID)

	headers := map[string]string{"X-Guest-ID": guestID}
	path := "/api/v1/conversations/" + chat.GuestConversationID

	rec, env = s.do(t, http.MethodPost, path+"/messages", map[string]string{"content": "Hello"}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent struct {
		Message          domain.Message `json:"message"`
		CreditsRemaining int            `json:"credits_remaining"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, domain.StatusLocal, sent.Message.Status)
	assert.Equal(t, 1, sent.CreditsRemaining)

	rec, env = s.do(t, http.MethodGet, path, nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	assert.Equal(t, "Hello", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.True(t, conv.Messages[0].IsUser)
	assert.False(t, conv.Messages[1].IsUser)

	rec, _ = s.do(t, http.MethodPost, path+"/messages", map[string]string{"content": "Again"}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = s.do(t, http.MethodPost, path+"/messages", map[string]string{"content": "Once more"}, headers)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/conversations", nil, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(t, http.MethodDelete, path, nil, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, s.remote.messages, "guest messages never reach the remote store")
}

func TestGuestIDIsMintedWhenInvalid(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/settings", nil, map[string]string{"X-Guest-ID": "not-a-uuid"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get("X-Guest-ID"))
}

func TestUserConversationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	headers := s.login(t, "user@example.com")

	rec, env := s.do(t, http.MethodGet, "/api/v1/conversations", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list.Conversations)

	rec, env = s.do(t, http.MethodPost, "/api/v1/conversations", nil, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	assert.Equal(t, "New Conversation", conv.Title)

	path := "/api/v1/conversations/" + conv.ID

	rec, env = s.do(t, http.MethodPost, path+"/messages", map[string]string{"content": "Hello"}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = s.do(t, http.MethodPost, path+"/messages/reload", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	require.Len(t, conv.Messages, 2)
	for _, m := range conv.Messages {
		assert.Equal(t, domain.StatusConfirmed, m.Status)
	}
	assert.Equal(t, "Hello", conv.Title)

	rec, env = s.do(t, http.MethodPatch, path, map[string]string{"title": "Greetings"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	assert.Equal(t, "Greetings", conv.Title)

	rec, _ = s.do(t, http.MethodPatch, path, map[string]string{"title": "   "}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, path, nil, headers)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/conversations", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Conversations, 1, "deleting the last conversation leaves a fresh one")
	assert.NotEqual(t, conv.ID, list.Conversations[0].ID)
	assert.Equal(t, list.Conversations[0].ID, list.ActiveID)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/conversations/missing", nil, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationSearch(t *testing.T) {
	s := newTestServer(t, nil)
	headers := s.login(t, "search@example.com")

	for _, title := range []string{"Morning run", "Meal plan"} {
		rec, env := s.do(t, http.MethodPost, "/api/v1/conversations", nil, headers)
		require.Equal(t, http.StatusCreated, rec.Code)
		var conv domain.Conversation
		require.NoError(t, json.Unmarshal(env.Data, &conv))
		rec, _ = s.do(t, http.MethodPatch, "/api/v1/conversations/"+conv.ID, map[string]string{"title": title}, headers)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := s.do(t, http.MethodGet, "/api/v1/conversations?q=MEAL", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "Meal plan", list.Conversations[0].Title)
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/conversations", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/conversations", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "user@example.com", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "not-an-email", "password": "short",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := env.Error.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "guests cannot log out")
}

func TestLogoutInvalidatesToken(t *testing.T) {
	s := newTestServer(t, nil)
	headers := s.login(t, "user@example.com")

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, headers)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/conversations", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordReset(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/password-reset", map[string]string{"email": "user@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm", map[string]string{
		"token": "reset-token", "password": "new-password",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/password-reset/confirm", map[string]string{
		"token": "bogus", "password": "new-password",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrompts(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodGet, "/api/v1/prompts", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	headers := map[string]string{"X-Guest-ID": rec.Header().Get("X-Guest-ID")}

	rec, _ = s.do(t, http.MethodPut, "/api/v1/prompts/general_health", map[string]string{
		"name": "Mine", "prompt": "text",
	}, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name": "Sleep coach", "prompt": "Help me sleep", "category": "mental_health",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name": "Bad", "prompt": "x", "category": "astrology",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/prompts/"+created.ID+"/activate", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/prompts", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var prompts []struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &prompts))
	require.Len(t, prompts, 5)
	for _, p := range prompts {
		assert.Equal(t, p.ID == created.ID, p.Active)
	}

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/prompts/active", nil, headers)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/prompts/"+created.ID, nil, headers)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/prompts/"+created.ID, nil, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettings(t *testing.T) {
	s := newTestServer(t, nil)
	rec, env := s.do(t, http.MethodGet, "/api/v1/settings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	headers := map[string]string{"X-Guest-ID": rec.Header().Get("X-Guest-ID")}

	var settings chat.Settings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, "GPT-4", settings.Model)

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/settings", map[string]string{"theme": "neon"}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodPatch, "/api/v1/settings", map[string]string{"theme": "dark", "model": "Claude"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, "dark", settings.Theme)
	assert.Equal(t, "Claude", settings.Model)
}

func TestCredits(t *testing.T) {
	s := newTestServer(t, nil)
	headers := s.login(t, "user@example.com")

	rec, env := s.do(t, http.MethodGet, "/api/v1/credits", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var credits struct {
		Remaining int `json:"remaining"`
		Allowance int `json:"allowance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &credits))
	assert.Equal(t, 5, credits.Remaining)
	assert.Equal(t, 5, credits.Allowance)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, map[string]handler.Pinger{"database": failingPinger{}})

	rec, _ := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.handler.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "test_http_requests_total")
}
