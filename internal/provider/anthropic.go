package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

const (
	anthropicDefaultBase  = "https://api.anthropic.com"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-5-20250514"
)

func providerErr(name, kind string, status int, msg string) *domain.ProviderError {
	return &domain.ProviderError{
		Provider:   name,
		Kind:       domain.ProviderErrorKind(kind),
		StatusCode: status,
		Message:    msg,
	}
}

// Anthropic implements domain.Provider over the messages API with
// native tool_use blocks.
type Anthropic struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type AnthropicConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Anthropic{
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

func (a *Anthropic) Name() string              { return "anthropic" }
func (a *Anthropic) SupportsToolCalling() bool { return true }

func (a *Anthropic) Models() []string {
	return []string{anthropicDefaultModel, "claude-opus-4-5-20250514", "claude-3-5-haiku-20241022"}
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []anthropicMsg  `json:"messages"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

type anthropicBlock struct {
	Type      string `json:"type"` // text | tool_use | tool_result
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  a.convertMessages(req.Messages),
	}
	if body.Model == "" {
		body.Model = a.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 4096
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, a.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
		return httpReq, nil
	}, a.logger)
	if err != nil {
		return nil, classifyError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, providerErr(a.Name(), "http", resp.StatusCode, string(respBody))
	}

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, providerErr(a.Name(), "malformed_response", 0, err.Error())
	}

	out := &domain.ChatResponse{
		FinishReason: ar.StopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}
	var textParts []string
	for _, block := range ar.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args, _ := block.Input.(map[string]any)
			if args == nil {
				args = make(map[string]any)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
				Mode:      domain.ModeNative,
			})
		}
	}
	out.Content = strings.Join(textParts, "")
	return out, nil
}

// convertMessages maps the neutral history onto the messages API: tool
// results become user-role tool_result blocks, assistant calls become
// tool_use blocks.
func (a *Anthropic) convertMessages(messages []domain.Message) []anthropicMsg {
	var msgs []anthropicMsg
	for _, m := range messages {
		switch {
		case m.Role == "tool":
			msgs = append(msgs, anthropicMsg{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
					IsError:   m.IsError,
				}},
			})
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			msgs = append(msgs, anthropicMsg{Role: "assistant", Content: blocks})
		default:
			msgs = append(msgs, anthropicMsg{Role: m.Role, Content: m.Content})
		}
	}
	return msgs
}
