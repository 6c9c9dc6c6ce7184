package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/healthchat/internal/domain"
	"github.com/supabase-community/postgrest-go"
)

type messageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsUser         bool      `json:"is_user"`
	Model          *string   `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	client tableClient
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(client tableClient) *MessageRepository {
	return &MessageRepository{client: client}
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row := messageRow{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Content:        message.Content,
		IsUser:         message.IsUser,
		CreatedAt:      message.CreatedAt.UTC(),
	}
	if message.Model != "" {
		row.Model = &message.Model
	}

	_, _, err := r.client.From(messagesTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []messageRow
	_, err := r.client.From(messagesTable).
		Select("id,conversation_id,content,is_user,model,created_at", "", false).
		Eq("conversation_id", conversationID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		m := domain.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Content:        row.Content,
			IsUser:         row.IsUser,
			Status:         domain.StatusConfirmed,
			CreatedAt:      row.CreatedAt,
		}
		if row.Model != nil {
			m.Model = *row.Model
		}
		messages = append(messages, m)
	}
	return messages, nil
}
