package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/repository/redis"
	"github.com/go-chi/chi/v5"
)

// ConversationHandler exposes the session's conversation store
type ConversationHandler struct {
	credits *Credits
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(credits *Credits) *ConversationHandler {
	return &ConversationHandler{credits: credits}
}

func listBody(store *chat.Store, query string) map[string]any {
	return map[string]any{
		"conversations": store.Search(query),
		"active_id":     store.ActiveID(),
	}
}

// List returns the conversations, optionally filtered by ?q= on the title
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}
	response.OK(w, listBody(store, r.URL.Query().Get("q")))
}

// Reload refetches the conversations from the remote store
func (h *ConversationHandler) Reload(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}
	if err := store.LoadConversations(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, listBody(store, ""))
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	conv, err := store.CreateConversation(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	conv, err := store.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, conv)
}

// Rename updates a conversation title
func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	var input struct {
		Title string `json:"title" validate:"required,max=255"`
	}
	if !decode(w, r, &input) {
		return
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		response.BadRequest(w, map[string]string{"title": "field is required"})
		return
	}

	conv, err := store.RenameConversation(r.Context(), chi.URLParam(r, "id"), title)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	if err := store.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

// Select makes the conversation active and refreshes its messages
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := store.Select(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conv, err := store.Conversation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, conv)
}

// ReloadMessages refetches a conversation's messages, keeping unsynced ones
func (h *ConversationHandler) ReloadMessages(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := store.LoadMessages(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conv, err := store.Conversation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, conv)
}

// SendMessage appends a user message; the assistant reply follows after the
// configured delay and shows up on the next read.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	store, ok := storeFrom(w, r)
	if !ok {
		return
	}

	var input struct {
		Content string `json:"content" validate:"required,max=10000"`
	}
	if !decode(w, r, &input) {
		return
	}
	if strings.TrimSpace(input.Content) == "" {
		writeError(w, chat.ErrEmptyMessage)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := store.Conversation(id); err != nil {
		writeError(w, err)
		return
	}

	remaining, err := h.credits.Spend(r.Context(), store.Session())
	if err != nil {
		if errors.Is(err, redis.ErrNoCredits) {
			response.PaymentRequired(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}

	msg, err := store.SendMessage(r.Context(), id, input.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{"message": msg}
	if remaining != nil {
		body["credits_remaining"] = *remaining
	}
	response.Created(w, body)
}
