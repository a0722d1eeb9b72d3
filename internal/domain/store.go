package domain

import (
	"context"
	"time"
)

type Conversation struct {
	ID        string
	Title     string
	Provider  string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationStore persists conversation history and the action log.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SaveMessage(ctx context.Context, convID string, msg Message) error
	GetHistory(ctx context.Context, convID string, limit int) ([]Message, error)

	LogAction(ctx context.Context, sessionID string, entry ActionEntry) error
	GetActions(ctx context.Context, sessionID string, limit int) ([]ActionEntry, error)

	Close() error
}

// ActionEntry is one record in the action log: a tool call, a message,
// an error, or a metric sample.
type ActionEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"` // tool_call | message | error | metric | permission
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// KnowledgeEntry is a saved recipe in the knowledge base.
type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Tags      string    `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
