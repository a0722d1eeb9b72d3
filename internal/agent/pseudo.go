package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Pseudo-call recovery. Some models ignore the tagged syntax and emit
// bare call lines instead:
//
//	shader_clear_nodes(material_name="Water")
//	{"shader_create_material": {"name": "Water"}}
//
// When no tagged block parsed, each line is tried against both shapes.
// Only names present in knownTools are accepted, so ordinary prose
// containing parentheses is never misread as a call.

var callLineRE = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\((.*)\)\s*$`)

// RecoverPseudoCalls scans text line by line for untagged call shapes.
// Code-fenced lines are skipped. Lines that fail to parse are ignored.
func RecoverPseudoCalls(text string, knownTools map[string]bool) []domain.ToolCall {
	if text == "" {
		return nil
	}

	var calls []domain.ToolCall
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}

		// {"tool_name": {...}} single-key JSON object.
		if strings.HasPrefix(line, "{") {
			if call, ok := parseJSONPseudo(line, knownTools); ok {
				calls = append(calls, call)
				continue
			}
		}

		// tool_name(key=value, ...) call line.
		m := callLineRE.FindStringSubmatch(raw)
		if m == nil || !knownTools[m[1]] {
			continue
		}
		args, ok := parseKwargs(m[2])
		if !ok {
			continue
		}
		calls = append(calls, domain.ToolCall{
			ID:        "pseudo_" + uuid.NewString()[:12],
			Name:      m[1],
			Arguments: args,
			Mode:      domain.ModeStructured,
		})
	}
	return calls
}

func parseJSONPseudo(line string, knownTools map[string]bool) (domain.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil || len(obj) != 1 {
		return domain.ToolCall{}, false
	}
	for name, rawArgs := range obj {
		if !knownTools[name] {
			return domain.ToolCall{}, false
		}
		args := map[string]any{}
		trimmed := strings.TrimSpace(string(rawArgs))
		if trimmed != "null" {
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return domain.ToolCall{}, false
			}
		}
		return domain.ToolCall{
			ID:        "pseudo_" + uuid.NewString()[:12],
			Name:      name,
			Arguments: args,
			Mode:      domain.ModeStructured,
		}, true
	}
	return domain.ToolCall{}, false
}

// parseKwargs parses "key=value, key=value" argument text. Values are
// JSON literals, python-style quoted strings, or the identifiers
// true/false/none (any case). Positional arguments fail the whole line.
func parseKwargs(argsText string) (map[string]any, bool) {
	argsText = strings.TrimSpace(argsText)
	args := make(map[string]any)
	if argsText == "" {
		return args, true
	}

	for _, part := range splitTopLevel(argsText) {
		eq := indexTopLevel(part, '=')
		if eq < 0 {
			return nil, false // positional arg
		}
		key := strings.TrimSpace(part[:eq])
		if !isIdentifier(key) {
			return nil, false
		}
		val, ok := coerceKwarg(strings.TrimSpace(part[eq+1:]))
		if !ok {
			return nil, false
		}
		args[key] = val
	}
	return args, true
}

func coerceKwarg(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	case "none", "null":
		return nil, true
	}

	var v any
	if err := json.Unmarshal([]byte(normalizeLiteral(s)), &v); err != nil {
		return nil, false
	}
	return v, true
}

// normalizeLiteral rewrites python-flavored literals into JSON: single
// quoted strings become double quoted, bare True/False/None lowered.
func normalizeLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '\'':
			b.WriteByte('"')
			for i++; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					b.WriteByte(c)
					i++
					b.WriteByte(s[i])
					continue
				}
				if c == '\'' {
					break
				}
				if c == '"' {
					b.WriteString(`\"`)
					continue
				}
				b.WriteByte(c)
			}
			b.WriteByte('"')
		case '"':
			b.WriteByte(ch)
			for i++; i < len(s); i++ {
				c := s[i]
				b.WriteByte(c)
				if c == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if c == '"' {
					break
				}
			}
		case 'T', 'F', 'N':
			rest := s[i:]
			switch {
			case strings.HasPrefix(rest, "True"):
				b.WriteString("true")
				i += 3
			case strings.HasPrefix(rest, "False"):
				b.WriteString("false")
				i += 4
			case strings.HasPrefix(rest, "None"):
				b.WriteString("null")
				i += 3
			default:
				b.WriteByte(ch)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// splitTopLevel splits on commas not nested in brackets or strings.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// indexTopLevel finds the first unnested, unquoted occurrence of ch.
func indexTopLevel(s string, target byte) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		default:
			if ch == target && depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
