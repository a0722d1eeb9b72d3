package tool

import (
	"context"
	"fmt"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// ActionLog is the slice of the store the meta tools need.
type ActionLog interface {
	GetActions(ctx context.Context, sessionID string, limit int) ([]domain.ActionEntry, error)
}

// ActionLogTool implements get_action_log for one session.
type ActionLogTool struct {
	log     ActionLog
	session string
}

func NewActionLogTool(log ActionLog, session string) *ActionLogTool {
	return &ActionLogTool{log: log, session: session}
}

func (t *ActionLogTool) Name() string { return "get_action_log" }

func (t *ActionLogTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	limit := 50
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}
	entries, err := t.log.GetActions(ctx, t.session, limit)
	if err != nil {
		return nil, fmt.Errorf("action log: %w", err)
	}
	return map[string]any{"session": t.session, "count": len(entries), "actions": entries}, nil
}

// DisabledTool is registered under names that must never run, so a
// model calling one gets a clear refusal instead of unknown-tool noise.
type DisabledTool struct {
	name   string
	reason string
}

func NewDisabledTool(name, reason string) *DisabledTool {
	return &DisabledTool{name: name, reason: reason}
}

func (t *DisabledTool) Name() string { return t.name }

func (t *DisabledTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return nil, fmt.Errorf("%s is disabled: %s", t.name, t.reason)
}

var (
	_ domain.Tool = (*ActionLogTool)(nil)
	_ domain.Tool = (*DisabledTool)(nil)
)
