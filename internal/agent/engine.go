package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/tool"
)

// ErrNoToolCall signals that the model produced no tool call on a turn
// whose routed intent requires one. Recoverable: the loop either falls
// back to the structured engine or replays with a corrective note.
var ErrNoToolCall = errors.New("no tool call in model reply")

// WrongToolsetError signals that the model named tools that are not in
// the registry. The extraction still carries any valid calls; the loop
// appends a corrective note listing what actually exists.
type WrongToolsetError struct {
	Names []string
}

func (e *WrongToolsetError) Error() string {
	return fmt.Sprintf("model called unregistered tools: %s", strings.Join(e.Names, ", "))
}

// Extraction is what an engine pulled out of one model reply.
type Extraction struct {
	Calls     []domain.ToolCall
	Text      string // user-visible reply text
	Recovered bool   // pseudo-call recovery produced the calls
}

// Engine is one of the two tool-calling protocols. Prepare shapes the
// outgoing request (native attaches schemas, structured embeds the text
// catalog); Extract pulls calls out of the reply.
type Engine interface {
	Mode() domain.CallMode
	Prepare(req *domain.ChatRequest, subset []string)
	Extract(resp *domain.ChatResponse, route Route) (Extraction, error)
}

// nativeEngine uses the provider's structured tool-calling API.
type nativeEngine struct {
	registry *tool.Registry
}

func NewNativeEngine(reg *tool.Registry) Engine {
	return &nativeEngine{registry: reg}
}

func (e *nativeEngine) Mode() domain.CallMode { return domain.ModeNative }

func (e *nativeEngine) Prepare(req *domain.ChatRequest, subset []string) {
	req.Tools = e.registry.Definitions(subset)
}

func (e *nativeEngine) Extract(resp *domain.ChatResponse, route Route) (Extraction, error) {
	ext := Extraction{Text: resp.Content}

	var unknown []string
	for _, call := range resp.ToolCalls {
		call.Mode = domain.ModeNative
		if !e.registry.Has(call.Name) {
			unknown = append(unknown, call.Name)
			continue
		}
		ext.Calls = append(ext.Calls, call)
	}

	if len(unknown) > 0 {
		return ext, &WrongToolsetError{Names: unknown}
	}
	if len(ext.Calls) == 0 && route.ImpliesTools() {
		return ext, ErrNoToolCall
	}
	return ext, nil
}

// structuredEngine keeps the provider API tool-free and parses tagged
// calls out of plain text, with pseudo-call recovery as the last step.
type structuredEngine struct {
	registry *tool.Registry
}

func NewStructuredEngine(reg *tool.Registry) Engine {
	return &structuredEngine{registry: reg}
}

func (e *structuredEngine) Mode() domain.CallMode { return domain.ModeStructured }

func (e *structuredEngine) Prepare(req *domain.ChatRequest, subset []string) {
	req.Tools = nil
	catalog := e.registry.Catalog(subset)
	if catalog != "" {
		req.System = req.System + "\n\n" + catalog
	}
}

func (e *structuredEngine) Extract(resp *domain.ChatResponse, route Route) (Extraction, error) {
	parsed := ParseTagged(resp.Content)
	ext := Extraction{Calls: parsed.Calls, Text: parsed.Text}

	if len(ext.Calls) == 0 {
		known := make(map[string]bool)
		for _, n := range e.registry.Names() {
			known[n] = true
		}
		if recovered := RecoverPseudoCalls(resp.Content, known); len(recovered) > 0 {
			ext.Calls = recovered
			ext.Recovered = true
		}
	}

	var unknown []string
	kept := ext.Calls[:0]
	for _, call := range ext.Calls {
		if !e.registry.Has(call.Name) {
			unknown = append(unknown, call.Name)
			continue
		}
		kept = append(kept, call)
	}
	ext.Calls = kept

	if len(unknown) > 0 {
		return ext, &WrongToolsetError{Names: unknown}
	}
	if len(ext.Calls) == 0 && route.ImpliesTools() {
		return ext, ErrNoToolCall
	}
	return ext, nil
}
