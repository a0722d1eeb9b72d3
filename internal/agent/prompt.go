package agent

import (
	"fmt"
	"strings"
)

// PromptBuilder assembles the system prompt for one turn: base persona,
// a domain hint keyed off the route, and (in structured mode) the tool
// catalog appended by the engine.
type PromptBuilder struct {
	extra string // custom text appended to the system prompt
}

func NewPromptBuilder(extra string) *PromptBuilder {
	return &PromptBuilder{extra: extra}
}

const basePrompt = `You are a Blender assistant operating a live scene through tools.

Working rules:
- Inspect before you change: check the scene or material state first when the request refers to existing objects.
- Prefer small, verifiable steps over one large batch.
- Report what you actually did, not what you intended.
- If a tool fails, read the error, adjust the arguments, and retry at most once before explaining the problem.`

// domainHints give the model a short nudge for the routed domain. Keyed
// by Route.Domain; absent keys simply add nothing.
var domainHints = map[string]string{
	"shader": `Shader work: build node graphs incrementally. Use shader_get_node_sockets
when unsure about socket names, and shader_get_material_summary to verify the result.`,
	"toon": `Toon shading: use the dedicated toon tools rather than assembling
ramps by hand; convert existing materials with shader_convert_to_toon.`,
	"animation": `Animation: drivers use frame-based expressions such as sin(frame*0.1).
Verify the target node and input exist before attaching a driver.`,
	"meshy": `3D generation runs remotely and can take minutes. Start the task,
report progress, and import the result only after it succeeds.`,
	"render": `Rendering: confirm resolution and output path before render_image.
EEVEE transmission needs scene_set_render_settings with refraction enabled.`,
}

// System builds the system prompt for a routed turn.
func (p *PromptBuilder) System(route Route) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if hint, ok := domainHints[route.Domain]; ok {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	if route.IsComplex() {
		b.WriteString("\n\nThis looks like a multi-step task. Plan the sequence briefly before the first call, and keep going until the whole request is done.")
	}
	if p.extra != "" {
		b.WriteString("\n\n")
		b.WriteString(p.extra)
	}
	return b.String()
}

// Corrective notes injected as user-role turns on recoverable protocol
// failures. They count toward the round limit like any other round.

func noToolCallNote() string {
	return "Your reply contained no tool call, but this request requires acting on the scene. " +
		"Reply again using the tool syntax shown in the system prompt. Do not answer in prose alone."
}

func wrongToolsetNote(unknown []string, available []string) string {
	return fmt.Sprintf("These tools do not exist: %s. Use only the registered tools: %s.",
		strings.Join(unknown, ", "), strings.Join(available, ", "))
}

func roundLimitNote() string {
	return "Tool round limit reached. Stop calling tools now. " +
		"Summarize what was completed, what failed, and what remains to be done."
}
