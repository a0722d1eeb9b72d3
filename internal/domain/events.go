package domain

import "time"

// EventType classifies an agent event delivered to the UI channel.
type EventType string

const (
	EventThinking          EventType = "thinking"
	EventAssistantMessage  EventType = "assistant_message"
	EventToolStart         EventType = "tool_start"
	EventToolEnd           EventType = "tool_end"
	EventPermissionRequest EventType = "permission_request"
	EventModeFallback      EventType = "mode_fallback"
	EventError             EventType = "error"
	EventDone              EventType = "done"
	EventAborted           EventType = "aborted"
	EventMeshyProgress     EventType = "meshy_progress"
)

// AgentEvent is a single event emitted by the orchestration loop toward
// the Blender add-on panel.
type AgentEvent struct {
	Type     EventType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	ToolID   string         `json:"tool_id,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Risk     RiskTier       `json:"risk,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	IsError  bool           `json:"is_error,omitempty"`
	Progress int            `json:"progress,omitempty"`
}

// UserTurn is an inbound chat request from the panel.
type UserTurn struct {
	SessionKey string
	Content    string
	Timestamp  time.Time
}
