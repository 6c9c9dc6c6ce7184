package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/healthchat/internal/domain"
	"github.com/supabase-community/postgrest-go"
)

type conversationRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type conversationInsert struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

func (r conversationRow) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ConversationRepository implements domain.ConversationRepository.
// PostgREST requests carry no context; ctx is honored only before the call.
type ConversationRepository struct {
	client tableClient
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(client tableClient) *ConversationRepository {
	return &ConversationRepository{client: client}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var rows []conversationRow
	_, err := r.client.From(conversationsTable).
		Insert(conversationInsert{
			ID:     conversation.ID,
			Title:  conversation.Title,
			UserID: conversation.UserID,
		}, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("failed to create conversation: empty representation")
	}

	conversation.CreatedAt = rows[0].CreatedAt
	conversation.UpdatedAt = rows[0].UpdatedAt
	return nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []conversationRow
	_, err := r.client.From(conversationsTable).
		Select("id,title,user_id,created_at,updated_at", "", false).
		Eq("user_id", userID).
		Order("updated_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	conversations := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, row.toDomain())
	}
	return conversations, nil
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, userID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var rows []conversationRow
	_, err := r.client.From(conversationsTable).
		Update(map[string]any{
			"title":      title,
			"updated_at": time.Now().UTC(),
		}, "representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var rows []conversationRow
	_, err := r.client.From(conversationsTable).
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
