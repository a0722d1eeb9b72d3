package domain

import (
	"context"
	"fmt"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	SupportsToolCalling() bool
}

type ChatRequest struct {
	Messages    []Message
	System      string
	Tools       []ToolDefinition // nil in structured mode: the catalog lives in System
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	LatencyMs    int64
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderErrorKind classifies adapter failures.
type ProviderErrorKind string

const (
	ProviderErrTimeout   ProviderErrorKind = "timeout"
	ProviderErrRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrHTTP      ProviderErrorKind = "http"
	ProviderErrNetwork   ProviderErrorKind = "network"
	ProviderErrMalformed ProviderErrorKind = "malformed_response"
)

// ProviderError is the typed failure surfaced by an LLM adapter after
// its retry budget is exhausted. Transport exceptions never escape raw.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}
