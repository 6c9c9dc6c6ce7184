package domain

import (
	"context"
	"time"
)

// MessageStatus tracks whether a message has been acknowledged by the remote store
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusConfirmed MessageStatus = "confirmed"
	// StatusLocal marks guest messages that are never synchronized
	StatusLocal MessageStatus = "local"
)

// Message represents a chat message in a conversation
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	IsUser         bool          `json:"is_user"`
	Model          string        `json:"model,omitempty"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MessageRepository defines the remote storage of messages
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
}
