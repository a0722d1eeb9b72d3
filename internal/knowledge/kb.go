// Package knowledge exposes the saved-recipe store as agent tools.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Store is the subset of the persistence layer the kb tools need.
type Store interface {
	SaveKnowledge(ctx context.Context, entry domain.KnowledgeEntry) (int64, error)
	SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error)
}

// SearchTool implements kb_search.
type SearchTool struct {
	store  Store
	logger *slog.Logger
}

func NewSearchTool(store Store, logger *slog.Logger) *SearchTool {
	return &SearchTool{store: store, logger: logger}
}

func (t *SearchTool) Name() string { return "kb_search" }

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	limit := intArg(args, "limit", 5)

	entries, err := t.store.SearchKnowledge(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	results := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		results = append(results, map[string]any{
			"id":      e.ID,
			"topic":   e.Topic,
			"content": e.Content,
			"tags":    e.Tags,
		})
	}
	return map[string]any{"query": query, "count": len(results), "results": results}, nil
}

// SaveTool implements kb_save.
type SaveTool struct {
	store  Store
	logger *slog.Logger
}

func NewSaveTool(store Store, logger *slog.Logger) *SaveTool {
	return &SaveTool{store: store, logger: logger}
}

func (t *SaveTool) Name() string { return "kb_save" }

func (t *SaveTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	topic, _ := args["topic"].(string)
	content, _ := args["content"].(string)
	if strings.TrimSpace(topic) == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("topic and content must not be empty")
	}
	tags, _ := args["tags"].(string)

	id, err := t.store.SaveKnowledge(ctx, domain.KnowledgeEntry{
		Topic:   topic,
		Content: content,
		Tags:    tags,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge save: %w", err)
	}
	t.logger.Info("recipe saved", "id", id, "topic", topic)
	return map[string]any{"id": id, "topic": topic, "saved": true}, nil
}

// intArg reads an integer argument that may arrive as a JSON float.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

var (
	_ domain.Tool = (*SearchTool)(nil)
	_ domain.Tool = (*SaveTool)(nil)
)
