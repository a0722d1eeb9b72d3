package domain

import "context"

// RiskTier classifies a tool's potential for irreversible or sensitive
// side effects. It drives permission gating.
type RiskTier string

const (
	RiskSafe        RiskTier = "safe"
	RiskWrite       RiskTier = "write"
	RiskDestructive RiskTier = "destructive"
	RiskNetwork     RiskTier = "network"
	// RiskCritical tools (arbitrary code execution) are refused outright
	// regardless of policy level.
	RiskCritical RiskTier = "critical"
)

// CallMode identifies which engine extracted a tool call.
type CallMode string

const (
	ModeNative     CallMode = "native"     // provider's structured tool-calling
	ModeStructured CallMode = "structured" // tagged-text catalog parsed locally
)

// Tool is a host-application operation exposed to the model.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"` // string | number | integer | boolean | array | object
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any      `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ToolDefinition is the immutable schema of a registered tool.
type ToolDefinition struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Params      []ParamSpec `yaml:"params,omitempty" json:"params,omitempty"`
	Risk        RiskTier    `yaml:"risk,omitempty" json:"risk,omitempty"`
	Categories  []string    `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Param returns the spec for the named parameter, if present.
func (d ToolDefinition) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// InputSchema renders the definition as a JSON Schema object in the
// format the provider APIs expect.
func (d ToolDefinition) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolCall is a single extracted call request. It is consumed exactly
// once: either it becomes one ExecutionResult or it is discarded.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Round     int            `json:"round,omitempty"`
	Mode      CallMode       `json:"mode,omitempty"`
}

// ResultStatus is the terminal state of one tool execution.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// ErrorKind classifies execution failures for the conversation and the UI.
type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "validation"
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindExecutionFault   ErrorKind = "execution_fault"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindAborted          ErrorKind = "aborted"
	ErrKindUnknownTool      ErrorKind = "unknown_tool"
)

// ExecutionResult is the immutable outcome of one accepted ToolCall.
type ExecutionResult struct {
	Status    ResultStatus `json:"status"`
	Payload   any          `json:"payload,omitempty"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// OK reports whether the execution succeeded.
func (r ExecutionResult) OK() bool { return r.Status == StatusOK }

// Errorf builds an error result.
func ErrorResult(kind ErrorKind, msg string) ExecutionResult {
	return ExecutionResult{Status: StatusError, ErrorKind: kind, Error: msg}
}

// OKResult builds a success result.
func OKResult(payload any) ExecutionResult {
	return ExecutionResult{Status: StatusOK, Payload: payload}
}
