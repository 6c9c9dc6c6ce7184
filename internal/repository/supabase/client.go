// Package supabase stores conversations and messages in a hosted Supabase
// project through its PostgREST interface.
package supabase

import (
	"fmt"

	"github.com/Rrens/healthchat/internal/config"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const (
	conversationsTable = "conversations"
	messagesTable      = "messages"
)

// tableClient is satisfied by *supabase.Client and *postgrest.Client
type tableClient interface {
	From(table string) *postgrest.QueryBuilder
}

// NewClient creates a Supabase client for the configured project
func NewClient(cfg config.SupabaseConfig) (*supabase.Client, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}
