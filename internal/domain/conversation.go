package domain

import (
	"context"
	"time"
)

// GuestUserID owns the locally synthesized conversation of an unauthenticated session
const GuestUserID = "guest"

// Conversation represents a titled, ordered thread of messages owned by a user
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy whose message slice does not alias the receiver's
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// IsGuest reports whether the conversation belongs to an unauthenticated session
func (c Conversation) IsGuest() bool {
	return c.UserID == GuestUserID
}

// ConversationRepository defines the remote storage of conversations.
// Update and delete are scoped by owner.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *Conversation) error
	ListByUser(ctx context.Context, userID string) ([]Conversation, error)
	UpdateTitle(ctx context.Context, id, userID, title string) error
	Delete(ctx context.Context, id, userID string) error
}
