package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/healthchat/internal/domain"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db dbtx
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db.Pool}
}

// Create inserts a new message. The row keeps the locally generated ID so
// that a later reload can match it against the optimistic copy.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, content, is_user, model, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`
	_, err := r.db.Exec(ctx, query,
		message.ID,
		message.ConversationID,
		message.Content,
		message.IsUser,
		message.Model,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListByConversation retrieves all messages of a conversation, oldest first
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	query := `
		SELECT id::text, conversation_id::text, content, is_user, COALESCE(model, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m := domain.Message{Status: domain.StatusConfirmed}
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Content,
			&m.IsUser,
			&m.Model,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
