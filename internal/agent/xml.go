package agent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// ParseResult is the outcome of scanning one assistant reply for tagged
// tool calls.
type ParseResult struct {
	Text  string // reply with the call blocks stripped, for the user
	Calls []domain.ToolCall
	Raw   string
}

func (r ParseResult) HasCalls() bool { return len(r.Calls) > 0 }

var (
	toolCallRE = regexp.MustCompile(`(?s)<tool_call\s+name=["']([^"']+)["']\s*>(.*?)</tool_call>`)
	paramRE    = regexp.MustCompile(`(?s)<param\s+name=["']([^"']+)["']\s*>(.*?)</param>`)
	inlineObjRE = regexp.MustCompile(`\{[^{}]*\}`)
	blankRunRE  = regexp.MustCompile(`\n{3,}`)
)

// ParseTagged extracts <tool_call name="x"> blocks from assistant text.
// Each block carries either <param> children or one inline JSON object.
// Malformed bodies degrade to empty arguments; this function never fails.
func ParseTagged(text string) ParseResult {
	if strings.TrimSpace(text) == "" {
		return ParseResult{Raw: text}
	}

	var calls []domain.ToolCall
	for _, m := range toolCallRE.FindAllStringSubmatch(text, -1) {
		calls = append(calls, domain.ToolCall{
			ID:        "xml_" + uuid.NewString()[:12],
			Name:      strings.TrimSpace(m[1]),
			Arguments: parseCallBody(m[2]),
			Mode:      domain.ModeStructured,
		})
	}

	clean := strings.TrimSpace(toolCallRE.ReplaceAllString(text, ""))
	clean = blankRunRE.ReplaceAllString(clean, "\n\n")

	return ParseResult{Text: clean, Calls: calls, Raw: text}
}

// parseCallBody interprets a tool_call body: <param> tags first, then a
// bare JSON object, then a JSON object embedded in surrounding text.
func parseCallBody(body string) map[string]any {
	body = strings.TrimSpace(body)

	if params := paramRE.FindAllStringSubmatch(body, -1); len(params) > 0 {
		args := make(map[string]any, len(params))
		for _, p := range params {
			args[strings.TrimSpace(p[1])] = coerceValue(strings.TrimSpace(p[2]))
		}
		return args
	}

	if strings.HasPrefix(body, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(body), &args); err == nil {
			return args
		}
	}
	if m := inlineObjRE.FindString(body); m != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(m), &args); err == nil {
			return args
		}
	}

	return map[string]any{}
}

// coerceValue interprets a param tag's text: JSON object/array, then
// bool, then null, then number, else the raw string.
func coerceValue(s string) any {
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(n)
	}
	return s
}
