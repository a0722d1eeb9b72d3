// Package permission gates tool execution behind risk-tier policies and
// user confirmations.
package permission

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Options configures the guard.
type Options struct {
	Level            domain.PolicyLevel
	ConfirmHighRisk  bool // high level only: gate destructive calls at all
	AllowDestructive bool
	AllowFileWrite   bool
	AllowNetwork     bool
}

func DefaultOptions() Options {
	return Options{
		Level:            domain.PolicyHigh,
		ConfirmHighRisk:  true,
		AllowDestructive: true,
		AllowFileWrite:   true,
		AllowNetwork:     true,
	}
}

// Guard evaluates tool calls against the active policy and tracks
// session-scoped approvals. Safe for concurrent use.
type Guard struct {
	opts   Options
	logger *slog.Logger
	audit  func(domain.AuditEntry)

	mu         sync.Mutex
	remembered map[string]bool // tool name -> approved for the session
}

// New builds a guard. audit may be nil; it receives one entry per
// decision and is typically wired to the action log.
func New(opts Options, logger *slog.Logger, audit func(domain.AuditEntry)) *Guard {
	if opts.Level == "" {
		opts.Level = domain.PolicyHigh
	}
	return &Guard{
		opts:       opts,
		logger:     logger,
		audit:      audit,
		remembered: make(map[string]bool),
	}
}

// Check classifies one call before execution. It never blocks; a
// confirm-required decision is resolved later via Apply.
func (g *Guard) Check(def domain.ToolDefinition) domain.PermissionDecision {
	dec := domain.PermissionDecision{Tool: def.Name, Risk: def.Risk}

	// Arbitrary code execution is refused no matter the policy.
	if def.Risk == domain.RiskCritical {
		dec.Action = domain.ActionRefuse
		dec.Outcome = domain.OutcomeDenied
		dec.Reason = fmt.Sprintf("%s is disabled: arbitrary code execution is not permitted", def.Name)
		g.record("tool_refused", dec)
		return dec
	}

	if reason := g.categoryRefusal(def); reason != "" {
		dec.Action = domain.ActionRefuse
		dec.Outcome = domain.OutcomeDenied
		dec.Reason = reason
		g.record("tool_refused", dec)
		return dec
	}

	if g.granted(def.Name) {
		dec.Action = domain.ActionAutoAllow
		dec.Outcome = domain.OutcomeAllowed
		dec.Reason = "previously approved this session"
		return dec
	}

	if g.required(def) == domain.ActionConfirmRequired {
		dec.Action = domain.ActionConfirmRequired
		dec.Reason = fmt.Sprintf("%s is a %s-risk operation", def.Name, def.Risk)
		return dec
	}

	dec.Action = domain.ActionAutoAllow
	dec.Outcome = domain.OutcomeAllowed
	return dec
}

// Apply resolves a confirm-required decision with the user's answer. A
// "once" approval covers exactly the call that raised the request; only
// "remember" leaves a grant behind.
func (g *Guard) Apply(def domain.ToolDefinition, conf domain.Confirmation) domain.PermissionDecision {
	dec := domain.PermissionDecision{Tool: def.Name, Risk: def.Risk, Action: domain.ActionConfirmRequired}

	if !conf.Approved {
		dec.Outcome = domain.OutcomeDenied
		dec.Reason = "denied by user"
		g.record("confirm_no", dec)
		return dec
	}

	if conf.Scope == domain.ScopeRemember {
		g.mu.Lock()
		g.remembered[def.Name] = true
		g.mu.Unlock()
		dec.Outcome = domain.OutcomeAllowedRemember
	} else {
		dec.Outcome = domain.OutcomeAllowed
	}

	g.record("confirm_yes", dec)
	return dec
}

// Reset drops all session grants. Called when a new session starts.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.remembered = make(map[string]bool)
	g.mu.Unlock()
}

// categoryRefusal applies the per-category disable switches.
func (g *Guard) categoryRefusal(def domain.ToolDefinition) string {
	switch def.Risk {
	case domain.RiskDestructive:
		if !g.opts.AllowDestructive {
			return "destructive tools are disabled in settings"
		}
	case domain.RiskNetwork:
		if !g.opts.AllowNetwork {
			return "network tools are disabled in settings"
		}
	case domain.RiskWrite:
		if !g.opts.AllowFileWrite && hasCategory(def, "file") {
			return "file write tools are disabled in settings"
		}
	}
	return ""
}

// required is the policy matrix: what the level demands for this tier.
func (g *Guard) required(def domain.ToolDefinition) domain.RequiredAction {
	switch g.opts.Level {
	case domain.PolicyConservative:
		if def.Risk != domain.RiskSafe {
			return domain.ActionConfirmRequired
		}
	case domain.PolicyBalanced:
		switch def.Risk {
		case domain.RiskDestructive, domain.RiskWrite, domain.RiskNetwork:
			return domain.ActionConfirmRequired
		}
	default: // high
		if def.Risk == domain.RiskDestructive && g.opts.ConfirmHighRisk {
			return domain.ActionConfirmRequired
		}
	}
	return domain.ActionAutoAllow
}

// granted reports whether a remember-scoped grant covers the tool.
func (g *Guard) granted(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remembered[name]
}

func (g *Guard) record(action string, dec domain.PermissionDecision) {
	if g.logger != nil {
		g.logger.Info("permission decision",
			"action", action, "tool", dec.Tool, "risk", dec.Risk, "outcome", dec.Outcome)
	}
	if g.audit != nil {
		g.audit(domain.AuditEntry{
			Action:   action,
			ToolName: dec.Tool,
			Risk:     dec.Risk,
			Result:   string(dec.Outcome),
			Details:  dec.Reason,
		})
	}
}

func hasCategory(def domain.ToolDefinition, cat string) bool {
	for _, c := range def.Categories {
		if c == cat {
			return true
		}
	}
	return false
}
