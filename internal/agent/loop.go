package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/metrics"
	"github.com/gohothothot/GohotBlenderAgent/internal/tool"
)

// loopState tracks where a turn currently is. States only move forward
// within a round; Aborted and Error are reachable from anywhere.
type loopState string

const (
	stateIdle               loopState = "idle"
	stateAwaitingModel      loopState = "awaiting_model"
	stateAwaitingPermission loopState = "awaiting_permission"
	stateExecuting          loopState = "executing"
	stateDone               loopState = "done"
	stateAborted            loopState = "aborted"
)

// Gate decides whether a tool call may run. Implemented by the
// permission guard.
type Gate interface {
	Check(def domain.ToolDefinition) domain.PermissionDecision
	Apply(def domain.ToolDefinition, conf domain.Confirmation) domain.PermissionDecision
}

// Confirmer delivers the user's approve/deny answer for one pending
// permission request. Implemented by the panel channel.
type Confirmer interface {
	Await(ctx context.Context, dec domain.PermissionDecision) (domain.Confirmation, error)
}

// Emitter receives loop events for the UI. Implemented by the bus.
type Emitter interface {
	Emit(evt domain.AgentEvent)
}

// LoopConfig tunes one loop instance.
type LoopConfig struct {
	Mode           string // native | structured | auto
	AutoFallback   bool
	MaxToolRounds  int
	HistoryLimit   int
	MaxTokens      int
	Temperature    float64
	Model          string
	ConfirmTimeout time.Duration
}

// Loop is the orchestration engine: route the message, call the model,
// extract tool calls, gate and execute them, repeat up to the round
// limit. One session's conversation is owned by at most one running
// turn; a new turn aborts and replaces the previous one.
type Loop struct {
	provider  domain.Provider
	registry  *tool.Registry
	gate      Gate
	confirmer Confirmer
	emitter   Emitter
	store     domain.ConversationStore
	prompt    *PromptBuilder
	logger    *slog.Logger
	cfg       LoopConfig

	pace *callPacer

	mu     sync.Mutex
	active map[string]*AbortController // session key -> in-flight turn
}

type LoopDeps struct {
	Provider  domain.Provider
	Registry  *tool.Registry
	Gate      Gate
	Confirmer Confirmer
	Emitter   Emitter
	Store     domain.ConversationStore // optional
	Prompt    *PromptBuilder
	Logger    *slog.Logger
}

func NewLoop(deps LoopDeps, cfg LoopConfig) *Loop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 120 * time.Second
	}
	if deps.Prompt == nil {
		deps.Prompt = NewPromptBuilder("")
	}
	return &Loop{
		provider:  deps.Provider,
		registry:  deps.Registry,
		gate:      deps.Gate,
		confirmer: deps.Confirmer,
		emitter:   deps.Emitter,
		store:     deps.Store,
		prompt:    deps.Prompt,
		logger:    deps.Logger,
		cfg:       cfg,
		pace:      newCallPacer(5, 30),
		active:    make(map[string]*AbortController),
	}
}

// Abort fires the abort signal for a session's in-flight turn, if any.
func (l *Loop) Abort(sessionKey string) bool {
	l.mu.Lock()
	ab, ok := l.active[sessionKey]
	l.mu.Unlock()
	if !ok {
		return false
	}
	ab.Abort()
	metrics.AbortsTotal.Inc()
	return true
}

// begin registers a turn's abort controller, aborting any prior turn
// still running for the same session.
func (l *Loop) begin(sessionKey string) *AbortController {
	ab := NewAbortController()
	l.mu.Lock()
	if prev, ok := l.active[sessionKey]; ok {
		prev.Abort()
	}
	l.active[sessionKey] = ab
	l.mu.Unlock()
	return ab
}

func (l *Loop) finish(sessionKey string, ab *AbortController) {
	l.mu.Lock()
	if l.active[sessionKey] == ab {
		delete(l.active, sessionKey)
	}
	l.mu.Unlock()
}

// ErrAborted terminates a turn cleanly when the user cancels it.
var ErrAborted = errors.New("request aborted")

// HandleTurn runs one full user turn to completion and returns the
// final assistant text.
func (l *Loop) HandleTurn(ctx context.Context, turn domain.UserTurn) (string, error) {
	metrics.TurnsTotal.Inc()
	ab := l.begin(turn.SessionKey)
	defer l.finish(turn.SessionKey, ab)

	ctx, cancel := ab.Context(ctx)
	defer cancel()

	route := RouteMessage(turn.Content)
	subset := tool.SubsetForIntent(route.Intent)
	l.logger.Info("turn routed",
		"session", turn.SessionKey,
		"intent", route.Intent,
		"domain", route.Domain,
		"complexity", route.Complexity,
	)

	history := l.loadHistory(ctx, turn.SessionKey)
	messages := append(history, domain.Message{Role: "user", Content: turn.Content})

	final, err := l.runRounds(ctx, ab, turn.SessionKey, route, subset, messages)
	if err != nil {
		if errors.Is(err, ErrAborted) || ab.Aborted() {
			l.emit(domain.AgentEvent{Type: domain.EventAborted})
			l.logAction(ctx, turn.SessionKey, domain.ActionEntry{Type: "error", Summary: "aborted by user"})
			return "", ErrAborted
		}
		l.emit(domain.AgentEvent{Type: domain.EventError, Content: err.Error(), IsError: true})
		return "", err
	}

	l.persistTurn(ctx, turn, final)
	l.emit(domain.AgentEvent{Type: domain.EventDone, Content: final})
	return final, nil
}

// runRounds is the round state machine.
func (l *Loop) runRounds(ctx context.Context, ab *AbortController, sessionKey string, route Route, subset []string, messages []domain.Message) (string, error) {
	engine := l.pickEngine()
	system := l.prompt.System(route)

	// A native no-call failure switches to the structured engine for
	// the next round only.
	var fallback Engine
	fellBack := false
	executedAny := false

	state := stateIdle
	for round := 1; round <= l.cfg.MaxToolRounds; round++ {
		if ab.Aborted() {
			return "", ErrAborted
		}
		metrics.RoundsTotal.Inc()

		eng := engine
		if fallback != nil {
			eng = fallback
			fallback = nil
		}

		state = stateAwaitingModel
		resp, err := l.callModel(ctx, eng, system, subset, messages)
		if err != nil {
			if ab.Aborted() {
				return "", ErrAborted
			}
			return "", fmt.Errorf("round %d: %w", round, err)
		}

		ext, extErr := eng.Extract(resp, route)
		if ext.Recovered {
			metrics.PseudoRecoveries.Inc()
			l.logger.Info("recovered pseudo tool calls", "count", len(ext.Calls))
		}
		if ext.Text != "" {
			l.emit(domain.AgentEvent{Type: domain.EventAssistantMessage, Content: ext.Text})
		}

		switch {
		case extErr == nil && len(ext.Calls) == 0:
			// Final answer.
			state = stateDone
			return ext.Text, nil

		case errors.Is(extErr, ErrNoToolCall):
			// Once tools have run, a call-free reply is the wrap-up,
			// not a protocol failure.
			if executedAny {
				state = stateDone
				return ext.Text, nil
			}
			if eng.Mode() == domain.ModeNative && l.cfg.AutoFallback && !fellBack {
				fellBack = true
				fallback = NewStructuredEngine(l.registry)
				metrics.ModeFallbacks.Inc()
				l.emit(domain.AgentEvent{Type: domain.EventModeFallback,
					Reason: "no tool call from native mode, retrying with tagged syntax"})
				l.logger.Warn("falling back to structured engine", "round", round)
				continue
			}
			messages = append(messages,
				domain.Message{Role: "assistant", Content: resp.Content},
				domain.Message{Role: "user", Content: noToolCallNote()},
			)
			continue

		default:
			var wrong *WrongToolsetError
			if errors.As(extErr, &wrong) {
				if len(ext.Calls) == 0 {
					messages = append(messages,
						domain.Message{Role: "assistant", Content: resp.Content},
						domain.Message{Role: "user", Content: wrongToolsetNote(wrong.Names, subset)},
					)
					continue
				}
				// Valid calls alongside the bogus ones still run; the
				// corrective note rides after the assistant turn.
				messages = append(messages,
					domain.Message{Role: "assistant", Content: ext.Text, ToolCalls: ext.Calls},
					domain.Message{Role: "user", Content: wrongToolsetNote(wrong.Names, subset)},
				)
			} else if extErr != nil {
				return "", extErr
			} else {
				messages = append(messages, domain.Message{
					Role:      "assistant",
					Content:   ext.Text,
					ToolCalls: ext.Calls,
				})
			}
		}

		// Sequential dispatch: each result lands in the conversation
		// before the next call runs.
		state = stateExecuting
		for _, call := range ext.Calls {
			if ab.Aborted() {
				return "", ErrAborted
			}
			call.Round = round
			result := l.dispatch(ctx, ab, sessionKey, call, &state)
			if ab.Aborted() && result.ErrorKind == domain.ErrKindAborted {
				return "", ErrAborted
			}
			executedAny = true
			messages = append(messages, toolResultMessage(call, result))
		}
	}

	// Round limit hit: one last call, tools withheld, asking for a
	// summary of partial progress.
	messages = append(messages, domain.Message{Role: "user", Content: roundLimitNote()})
	resp, err := l.chat(ctx, domain.ChatRequest{
		Messages:    messages,
		System:      system,
		Model:       l.cfg.Model,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	})
	if err != nil {
		if ab.Aborted() {
			return "", ErrAborted
		}
		return "", fmt.Errorf("round limit summary: %w", err)
	}
	l.emit(domain.AgentEvent{Type: domain.EventAssistantMessage, Content: resp.Content})
	return resp.Content, nil
}

func (l *Loop) callModel(ctx context.Context, eng Engine, system string, subset []string, messages []domain.Message) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{
		Messages:    messages,
		System:      system,
		Model:       l.cfg.Model,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	}
	eng.Prepare(&req, subset)
	return l.chat(ctx, req)
}

func (l *Loop) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := l.pace.wait(ctx); err != nil {
		return nil, err
	}
	l.emit(domain.AgentEvent{Type: domain.EventThinking})
	start := time.Now()
	resp, err := l.provider.Chat(ctx, req)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	return resp, err
}

// dispatch gates and executes a single tool call.
func (l *Loop) dispatch(ctx context.Context, ab *AbortController, sessionKey string, call domain.ToolCall, state *loopState) domain.ExecutionResult {
	def, ok := l.registry.Definition(call.Name)
	if !ok {
		return domain.ErrorResult(domain.ErrKindUnknownTool, "unknown tool: "+call.Name)
	}

	dec := l.gate.Check(def)
	switch dec.Action {
	case domain.ActionRefuse:
		metrics.PermissionDenials.Inc()
		l.logAction(ctx, sessionKey, domain.ActionEntry{
			Type: "permission", Tool: call.Name, Summary: "refused: " + dec.Reason,
		})
		return domain.ErrorResult(domain.ErrKindPermissionDenied, dec.Reason)

	case domain.ActionConfirmRequired:
		*state = stateAwaitingPermission
		l.emit(domain.AgentEvent{
			Type:   domain.EventPermissionRequest,
			Tool:   call.Name,
			ToolID: call.ID,
			Args:   call.Arguments,
			Risk:   def.Risk,
			Reason: dec.Reason,
		})
		conf, err := l.awaitConfirmation(ctx, ab, dec)
		if err != nil {
			metrics.PermissionDenials.Inc()
			if ab.Aborted() {
				return domain.ErrorResult(domain.ErrKindAborted, "aborted while awaiting confirmation")
			}
			return domain.ErrorResult(domain.ErrKindPermissionDenied, err.Error())
		}
		dec = l.gate.Apply(def, conf)
		if dec.Outcome == domain.OutcomeDenied {
			metrics.PermissionDenials.Inc()
			l.logAction(ctx, sessionKey, domain.ActionEntry{
				Type: "permission", Tool: call.Name, Summary: "denied by user",
			})
			return domain.ErrorResult(domain.ErrKindPermissionDenied, "denied by user")
		}
	}

	*state = stateExecuting
	l.emit(domain.AgentEvent{Type: domain.EventToolStart, Tool: call.Name, ToolID: call.ID, Args: call.Arguments})
	metrics.ToolExecutions.Inc()

	start := time.Now()
	result := l.registry.Execute(ctx, call.Name, call.Arguments)
	metrics.ToolLatency.Observe(time.Since(start).Seconds())
	if result.ErrorKind == domain.ErrKindValidation {
		metrics.ValidationFails.Inc()
	}

	l.emit(domain.AgentEvent{
		Type:    domain.EventToolEnd,
		Tool:    call.Name,
		ToolID:  call.ID,
		IsError: !result.OK(),
		Content: result.Error,
	})
	l.logAction(ctx, sessionKey, domain.ActionEntry{
		Type:      "tool_call",
		Tool:      call.Name,
		Arguments: call.Arguments,
		Success:   result.OK(),
		Summary:   summarizeResult(result),
		Error:     result.Error,
	})
	return result
}

// awaitConfirmation parks until the user answers, the timeout expires,
// or the turn is aborted. Abort and timeout are both denials.
func (l *Loop) awaitConfirmation(ctx context.Context, ab *AbortController, dec domain.PermissionDecision) (domain.Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.ConfirmTimeout)
	defer cancel()

	type answer struct {
		conf domain.Confirmation
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		conf, err := l.confirmer.Await(waitCtx, dec)
		ch <- answer{conf, err}
	}()

	select {
	case <-ab.Done():
		return domain.Confirmation{}, ErrAborted
	case <-waitCtx.Done():
		return domain.Confirmation{}, fmt.Errorf("confirmation timed out for %s", dec.Tool)
	case a := <-ch:
		return a.conf, a.err
	}
}

func (l *Loop) pickEngine() Engine {
	switch l.cfg.Mode {
	case "structured":
		return NewStructuredEngine(l.registry)
	case "native":
		return NewNativeEngine(l.registry)
	default: // auto
		if l.provider.SupportsToolCalling() {
			return NewNativeEngine(l.registry)
		}
		return NewStructuredEngine(l.registry)
	}
}

func (l *Loop) loadHistory(ctx context.Context, sessionKey string) []domain.Message {
	if l.store == nil {
		return nil
	}
	history, err := l.store.GetHistory(ctx, sessionKey, l.cfg.HistoryLimit)
	if err != nil {
		l.logger.Warn("history load failed, continuing without it", "error", err)
		return nil
	}
	return history
}

func (l *Loop) persistTurn(ctx context.Context, turn domain.UserTurn, final string) {
	if l.store == nil {
		return
	}
	if conv, _ := l.store.GetConversation(ctx, turn.SessionKey); conv == nil {
		err := l.store.CreateConversation(ctx, domain.Conversation{
			ID:       turn.SessionKey,
			Title:    title(turn.Content),
			Provider: l.provider.Name(),
			Model:    l.cfg.Model,
		})
		if err != nil {
			l.logger.Warn("conversation create failed", "error", err)
			return
		}
	}
	if err := l.store.SaveMessage(ctx, turn.SessionKey, domain.Message{Role: "user", Content: turn.Content}); err != nil {
		l.logger.Warn("save user message failed", "error", err)
	}
	if err := l.store.SaveMessage(ctx, turn.SessionKey, domain.Message{Role: "assistant", Content: final}); err != nil {
		l.logger.Warn("save assistant message failed", "error", err)
	}
}

func (l *Loop) logAction(ctx context.Context, sessionKey string, entry domain.ActionEntry) {
	if l.store == nil {
		return
	}
	entry.Timestamp = time.Now()
	if err := l.store.LogAction(ctx, sessionKey, entry); err != nil {
		l.logger.Warn("action log write failed", "error", err)
	}
}

func (l *Loop) emit(evt domain.AgentEvent) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

func toolResultMessage(call domain.ToolCall, result domain.ExecutionResult) domain.Message {
	content := summarizeResult(result)
	return domain.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    !result.OK(),
	}
}

func summarizeResult(result domain.ExecutionResult) string {
	if !result.OK() {
		return fmt.Sprintf("error (%s): %s", result.ErrorKind, result.Error)
	}
	if result.Payload == nil {
		return "ok"
	}
	if s, ok := result.Payload.(string); ok {
		return s
	}
	if raw, err := json.Marshal(result.Payload); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", result.Payload)
}

func title(content string) string {
	const max = 60
	if len(content) <= max {
		return content
	}
	return content[:max]
}
