package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/tool"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	requests  []domain.ChatRequest
	tools     bool
	block     chan struct{} // when set, Chat blocks until ctx ends
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if p.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.block:
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) Models() []string          { return nil }
func (p *scriptedProvider) SupportsToolCalling() bool { return p.tools }

type allowAllGate struct{}

func (allowAllGate) Check(def domain.ToolDefinition) domain.PermissionDecision {
	return domain.PermissionDecision{Tool: def.Name, Risk: def.Risk, Action: domain.ActionAutoAllow}
}
func (allowAllGate) Apply(def domain.ToolDefinition, conf domain.Confirmation) domain.PermissionDecision {
	return domain.PermissionDecision{Tool: def.Name, Outcome: domain.OutcomeAllowed}
}

// gateScript forces a fixed action and resolves per the queued answers.
type gateScript struct {
	action domain.RequiredAction
	reason string
}

func (g *gateScript) Check(def domain.ToolDefinition) domain.PermissionDecision {
	return domain.PermissionDecision{Tool: def.Name, Risk: def.Risk, Action: g.action, Reason: g.reason}
}

func (g *gateScript) Apply(def domain.ToolDefinition, conf domain.Confirmation) domain.PermissionDecision {
	out := domain.OutcomeDenied
	if conf.Approved {
		out = domain.OutcomeAllowed
	}
	return domain.PermissionDecision{Tool: def.Name, Outcome: out}
}

type scriptedConfirmer struct {
	answers []domain.Confirmation
}

func (c *scriptedConfirmer) Await(ctx context.Context, dec domain.PermissionDecision) (domain.Confirmation, error) {
	if len(c.answers) == 0 {
		<-ctx.Done()
		return domain.Confirmation{}, ctx.Err()
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []domain.AgentEvent
}

func (s *eventSink) Emit(evt domain.AgentEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *eventSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *eventSink) has(t domain.EventType) bool {
	for _, et := range s.types() {
		if et == t {
			return true
		}
	}
	return false
}

type recordingTool struct {
	name  string
	mu    sync.Mutex
	calls []map[string]any
}

func (r *recordingTool) Name() string { return r.name }

func (r *recordingTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	return "done: " + r.name, nil
}

func loopRegistry(t *testing.T) (*tool.Registry, *recordingTool) {
	t.Helper()
	reg := tool.NewRegistry(testLoopLogger(), tool.Options{})
	impl := &recordingTool{name: "create_primitive"}
	defs := []domain.ToolDefinition{
		{
			Name: "create_primitive",
			Risk: domain.RiskWrite,
			Params: []domain.ParamSpec{
				{Name: "primitive_type", Type: "string", Required: true},
			},
		},
		{Name: "delete_object", Risk: domain.RiskDestructive,
			Params: []domain.ParamSpec{{Name: "name", Type: "string", Required: true}}},
		{Name: "get_scene_info", Risk: domain.RiskSafe},
	}
	for _, def := range defs {
		var bound domain.Tool = &recordingTool{name: def.Name}
		if def.Name == "create_primitive" {
			bound = impl
		}
		if err := reg.Register(def, bound); err != nil {
			t.Fatal(err)
		}
	}
	return reg, impl
}

func testLoopLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestLoop(t *testing.T, p *scriptedProvider, gate Gate, conf Confirmer, cfg LoopConfig) (*Loop, *eventSink, *recordingTool) {
	t.Helper()
	reg, impl := loopRegistry(t)
	sink := &eventSink{}
	if gate == nil {
		gate = allowAllGate{}
	}
	if conf == nil {
		conf = &scriptedConfirmer{}
	}
	loop := NewLoop(LoopDeps{
		Provider:  p,
		Registry:  reg,
		Gate:      gate,
		Confirmer: conf,
		Emitter:   sink,
		Prompt:    NewPromptBuilder(""),
		Logger:    testLoopLogger(),
	}, cfg)
	return loop, sink, impl
}

func TestLoop_DirectAnswerWithoutTools(t *testing.T) {
	p := &scriptedProvider{
		tools:     true,
		responses: []*domain.ChatResponse{{Content: "Three objects: Cube, Camera, Light."}},
	}
	loop, sink, _ := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native"})

	// A query intent does not require a tool call.
	final, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "list the objects please",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if final != "Three objects: Cube, Camera, Light." {
		t.Fatalf("final: %q", final)
	}
	if !sink.has(domain.EventDone) {
		t.Fatal("expected done event")
	}
}

func TestLoop_NativeToolRoundThenAnswer(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "create_primitive",
				Arguments: map[string]any{"primitive_type": "cube"},
			}}},
			{Content: "Created the cube."},
		},
	}
	loop, sink, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native"})

	final, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if final != "Created the cube." {
		t.Fatalf("final: %q", final)
	}
	if len(impl.calls) != 1 {
		t.Fatalf("tool should run once, ran %d times", len(impl.calls))
	}
	if !sink.has(domain.EventToolStart) || !sink.has(domain.EventToolEnd) {
		t.Fatal("expected tool start/end events")
	}

	// The second request must carry the tool result turn.
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolName != "create_primitive" {
		t.Fatalf("tool result not appended: %+v", last)
	}
	if !strings.Contains(last.Content, "done: create_primitive") {
		t.Fatalf("result content: %q", last.Content)
	}
}

func TestLoop_StructuredModeParsesTaggedCalls(t *testing.T) {
	p := &scriptedProvider{
		responses: []*domain.ChatResponse{
			{Content: `<tool_call name="create_primitive"><param name="primitive_type">cube</param></tool_call>`},
			{Content: "Done."},
		},
	}
	loop, _, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "structured"})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(impl.calls) != 1 {
		t.Fatalf("tagged call should execute, got %d", len(impl.calls))
	}

	// Structured mode sends the catalog in the system prompt, no schemas.
	first := p.requests[0]
	if first.Tools != nil {
		t.Fatal("structured mode must not attach tool schemas")
	}
	if !strings.Contains(first.System, "Available tools") {
		t.Fatal("structured mode must embed the catalog")
	}
}

func TestLoop_AutoFallbackOnNoToolCall(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{Content: "I would create a cube for you."}, // native round, no call
			{Content: `<tool_call name="create_primitive"><param name="primitive_type">cube</param></tool_call>`},
			{Content: "Done."},
		},
	}
	loop, sink, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "auto", AutoFallback: true})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if !sink.has(domain.EventModeFallback) {
		t.Fatal("expected mode fallback event")
	}
	if len(impl.calls) != 1 {
		t.Fatal("fallback round should have executed the tagged call")
	}
	// Second request must be the structured replay: no schemas, catalog present.
	if p.requests[1].Tools != nil || !strings.Contains(p.requests[1].System, "Available tools") {
		t.Fatal("fallback round should use the structured engine")
	}
	// Third request is back on the native engine.
	if p.requests[2].Tools == nil {
		t.Fatal("engine switch is for the next round only")
	}
}

func TestLoop_NoToolCallNoteWithoutFallback(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{Content: "Sure, here is how you could do it."},
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "create_primitive",
				Arguments: map[string]any{"primitive_type": "cube"},
			}}},
			{Content: "Done."},
		},
	}
	loop, _, _ := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native", AutoFallback: false})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	// The corrective note is injected as a user turn before round two.
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "no tool call") {
		t.Fatalf("expected corrective note, got %+v", last)
	}
}

func TestLoop_WrongToolsetNote(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{ID: "x", Name: "make_it_pretty"}}},
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "create_primitive",
				Arguments: map[string]any{"primitive_type": "cube"},
			}}},
			{Content: "Done."},
		},
	}
	loop, _, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native"})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "make_it_pretty") || !strings.Contains(last.Content, "create_primitive") {
		t.Fatalf("note should name the bogus and the real tools: %q", last.Content)
	}
	if len(impl.calls) != 1 {
		t.Fatal("valid retry should execute")
	}
}

func TestLoop_RoundLimitForcesSummary(t *testing.T) {
	call := domain.ToolCall{ID: "tc", Name: "create_primitive",
		Arguments: map[string]any{"primitive_type": "cube"}}
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{call}},
			{ToolCalls: []domain.ToolCall{call}},
			{ToolCalls: []domain.ToolCall{call}},
			{Content: "Partial progress: three cubes created."}, // forced summary
		},
	}
	loop, _, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native", MaxToolRounds: 3})

	final, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create many cubes",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if final != "Partial progress: three cubes created." {
		t.Fatalf("final: %q", final)
	}
	if len(impl.calls) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(impl.calls))
	}

	summary := p.requests[3]
	if summary.Tools != nil {
		t.Fatal("summary request must withhold tools")
	}
	last := summary.Messages[len(summary.Messages)-1]
	if !strings.Contains(last.Content, "round limit") && !strings.Contains(last.Content, "Round limit") {
		t.Fatalf("expected the limit note, got %q", last.Content)
	}
}

func TestLoop_PermissionDeniedBecomesToolResult(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "delete_object",
				Arguments: map[string]any{"name": "Cube"},
			}}},
			{Content: "Understood, leaving it alone."},
		},
	}
	gate := &gateScript{action: domain.ActionConfirmRequired, reason: "destructive"}
	conf := &scriptedConfirmer{answers: []domain.Confirmation{
		{Tool: "delete_object", Scope: domain.ScopeOnce, Approved: false},
	}}
	loop, sink, _ := newTestLoop(t, p, gate, conf, LoopConfig{Mode: "native"})

	final, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "delete the cube",
	})
	if err != nil {
		t.Fatalf("denial must not kill the turn: %v", err)
	}
	if final != "Understood, leaving it alone." {
		t.Fatalf("final: %q", final)
	}
	if !sink.has(domain.EventPermissionRequest) {
		t.Fatal("expected permission request event")
	}
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !last.IsError || !strings.Contains(last.Content, "permission_denied") {
		t.Fatalf("denial should land as an error tool result: %+v", last)
	}
}

func TestLoop_ApprovedCallExecutes(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "delete_object",
				Arguments: map[string]any{"name": "Cube"},
			}}},
			{Content: "Deleted."},
		},
	}
	gate := &gateScript{action: domain.ActionConfirmRequired}
	conf := &scriptedConfirmer{answers: []domain.Confirmation{
		{Tool: "delete_object", Scope: domain.ScopeOnce, Approved: true},
	}}
	loop, _, _ := newTestLoop(t, p, gate, conf, LoopConfig{Mode: "native"})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "delete the cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.IsError {
		t.Fatalf("approved call should succeed: %+v", last)
	}
}

func TestLoop_RefusedToolNeverRuns(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "delete_object",
				Arguments: map[string]any{"name": "Cube"},
			}}},
			{Content: "Cannot do that."},
		},
	}
	gate := &gateScript{action: domain.ActionRefuse, reason: "disabled by policy"}
	loop, _, _ := newTestLoop(t, p, gate, nil, LoopConfig{Mode: "native"})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "delete the cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	last := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if !strings.Contains(last.Content, "disabled by policy") {
		t.Fatalf("refusal reason should reach the model: %q", last.Content)
	}
}

func TestLoop_AbortDuringProviderCall(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		block: make(chan struct{}),
		responses: []*domain.ChatResponse{
			{Content: "never delivered"},
		},
	}
	loop, sink, _ := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native"})

	errCh := make(chan error, 1)
	go func() {
		_, err := loop.HandleTurn(context.Background(), domain.UserTurn{
			SessionKey: "s1", Content: "create a cube",
		})
		errCh <- err
	}()

	// Wait for the turn to register, then fire the abort.
	deadline := time.After(2 * time.Second)
	for !loop.Abort("s1") {
		select {
		case <-deadline:
			t.Fatal("turn never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not terminate the turn")
	}
	if !sink.has(domain.EventAborted) {
		t.Fatal("expected aborted event")
	}
}

func TestLoop_AbortWhileAwaitingConfirmation(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{
				ID: "tc1", Name: "delete_object",
				Arguments: map[string]any{"name": "Cube"},
			}}},
		},
	}
	gate := &gateScript{action: domain.ActionConfirmRequired}
	// No queued answers: the confirmer blocks until its context ends.
	loop, _, _ := newTestLoop(t, p, gate, &scriptedConfirmer{}, LoopConfig{Mode: "native"})

	errCh := make(chan error, 1)
	go func() {
		_, err := loop.HandleTurn(context.Background(), domain.UserTurn{
			SessionKey: "s1", Content: "delete the cube",
		})
		errCh <- err
	}()

	deadline := time.After(2 * time.Second)
	for !loop.Abort("s1") {
		select {
		case <-deadline:
			t.Fatal("turn never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not release the permission wait")
	}
}

func TestLoop_NewTurnAbortsPrevious(t *testing.T) {
	block := make(chan struct{})
	p := &scriptedProvider{
		tools: true,
		block: block,
		responses: []*domain.ChatResponse{
			{Content: "first"},
			{Content: "second"},
		},
	}
	loop, _, _ := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "native"})

	firstErr := make(chan error, 1)
	go func() {
		_, err := loop.HandleTurn(context.Background(), domain.UserTurn{
			SessionKey: "s1", Content: "list objects",
		})
		firstErr <- err
	}()

	// Let the first turn park in the provider, then start a second one.
	time.Sleep(20 * time.Millisecond)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "list objects",
	}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("first turn should be aborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never finished")
	}
}

// hookTool runs a side effect when executed.
type hookTool struct {
	name string
	hook func()
}

func (h *hookTool) Name() string { return h.name }

func (h *hookTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	h.hook()
	return "done: " + h.name, nil
}

func TestLoop_AbortMidRoundSkipsQueuedCalls(t *testing.T) {
	p := &scriptedProvider{
		tools: true,
		responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{
				{ID: "tc1", Name: "create_primitive",
					Arguments: map[string]any{"primitive_type": "cube"}},
				{ID: "tc2", Name: "get_scene_info"},
			}},
		},
	}

	reg := tool.NewRegistry(testLoopLogger(), tool.Options{})
	var loop *Loop
	firstRan := false
	first := &hookTool{name: "create_primitive", hook: func() {
		firstRan = true
		loop.Abort("s1")
	}}
	second := &recordingTool{name: "get_scene_info"}
	if err := reg.Register(domain.ToolDefinition{
		Name: "create_primitive",
		Risk: domain.RiskWrite,
		Params: []domain.ParamSpec{
			{Name: "primitive_type", Type: "string", Required: true},
		},
	}, first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(domain.ToolDefinition{Name: "get_scene_info", Risk: domain.RiskSafe}, second); err != nil {
		t.Fatal(err)
	}

	sink := &eventSink{}
	loop = NewLoop(LoopDeps{
		Provider:  p,
		Registry:  reg,
		Gate:      allowAllGate{},
		Confirmer: &scriptedConfirmer{},
		Emitter:   sink,
		Prompt:    NewPromptBuilder(""),
		Logger:    testLoopLogger(),
	}, LoopConfig{Mode: "native"})

	_, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube then inspect the scene",
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	// The in-flight call completes; the queued one never starts.
	if !firstRan {
		t.Fatal("in-flight call should have completed")
	}
	if len(second.calls) != 0 {
		t.Fatal("queued call must not start after abort")
	}
	if !sink.has(domain.EventAborted) {
		t.Fatal("expected aborted event")
	}
}

func TestLoop_PseudoRecoveryExecutes(t *testing.T) {
	p := &scriptedProvider{
		responses: []*domain.ChatResponse{
			{Content: `create_primitive(primitive_type="cube")`},
			{Content: "Done."},
		},
	}
	loop, _, impl := newTestLoop(t, p, nil, nil, LoopConfig{Mode: "structured"})

	if _, err := loop.HandleTurn(context.Background(), domain.UserTurn{
		SessionKey: "s1", Content: "create a cube",
	}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(impl.calls) != 1 {
		t.Fatal("pseudo-recovered call should execute")
	}
	if fmt.Sprint(impl.calls[0]["primitive_type"]) != "cube" {
		t.Fatalf("args: %v", impl.calls[0])
	}
}
