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

const openaiDefaultBase = "https://api.openai.com/v1"

// OpenAI implements domain.Provider for the chat-completions API and
// anything wire-compatible with it (local runtimes, proxies).
type OpenAI struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = openaiDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string              { return "openai" }
func (o *OpenAI) Models() []string          { return []string{o.model} }
func (o *OpenAI) SupportsToolCalling() bool { return true }

type oaRequest struct {
	Model       string   `json:"model"`
	Messages    []oaMsg  `json:"messages"`
	Tools       []oaTool `json:"tools,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

type oaMsg struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMsg  `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens     int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := oaRequest{
		Model:       req.Model,
		Messages:    o.convertMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.Model == "" {
		body.Model = o.model
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaTool{
			Type: "function",
			Function: oaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema(),
			},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if o.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		}
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, classifyError(o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, providerErr(o.Name(), "http", resp.StatusCode, string(respBody))
	}

	var or oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, providerErr(o.Name(), "malformed_response", 0, err.Error())
	}
	if len(or.Choices) == 0 {
		return nil, providerErr(o.Name(), "malformed_response", 0, "no choices in response")
	}

	choice := or.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     or.Usage.PromptTokens,
			CompletionTokens: or.Usage.CompletionTokens,
			TotalTokens:      or.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			// Bad JSON from the model degrades to empty args; schema
			// validation surfaces the problem as a tool result.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			Mode:      domain.ModeNative,
		})
	}
	return out, nil
}

func (o *OpenAI) convertMessages(system string, messages []domain.Message) []oaMsg {
	var msgs []oaMsg
	if system != "" {
		msgs = append(msgs, oaMsg{Role: "system", Content: system})
	}
	for _, m := range messages {
		out := oaMsg{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			raw, err := json.Marshal(tc.Arguments)
			if err != nil {
				raw = []byte("{}")
			}
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(raw)
			out.ToolCalls = append(out.ToolCalls, otc)
		}
		msgs = append(msgs, out)
	}
	return msgs
}
