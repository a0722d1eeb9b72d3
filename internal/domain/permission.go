package domain

// PolicyLevel selects how aggressively tool execution is gated.
type PolicyLevel string

const (
	PolicyHigh         PolicyLevel = "high"         // confirm destructive only
	PolicyBalanced     PolicyLevel = "balanced"     // additionally gate write + network
	PolicyConservative PolicyLevel = "conservative" // block destructive, confirm everything above safe
)

// RequiredAction is what the guard demands before a call may execute.
type RequiredAction string

const (
	ActionAutoAllow       RequiredAction = "auto-allow"
	ActionConfirmRequired RequiredAction = "confirm-required"
	ActionRefuse          RequiredAction = "refuse"
)

// ApprovalScope is how long a user approval lasts.
type ApprovalScope string

const (
	ScopeOnce     ApprovalScope = "once"     // this call only
	ScopeRemember ApprovalScope = "remember" // this tool name, rest of the session
)

// Outcome is the resolved state of a PermissionDecision.
type Outcome string

const (
	OutcomeAllowed         Outcome = "allowed"
	OutcomeDenied          Outcome = "denied"
	OutcomeAllowedRemember Outcome = "allowed-remember-session"
)

// PermissionDecision records the guard's verdict for one tool call.
type PermissionDecision struct {
	Tool     string         `json:"tool"`
	Risk     RiskTier       `json:"risk"`
	Action   RequiredAction `json:"action"`
	Outcome  Outcome        `json:"outcome,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Confirmation is the asynchronous approve/deny signal delivered by the
// UI layer. It is consumed exactly once per pending request.
type Confirmation struct {
	Tool     string        `json:"tool"`
	Scope    ApprovalScope `json:"scope"`
	Approved bool          `json:"approved"`
}

// AuditEntry records a permission or execution event for the action log.
type AuditEntry struct {
	Action   string // tool_exec | tool_refused | confirm_yes | confirm_no
	ToolName string
	Risk     RiskTier
	Result   string // allowed | refused | confirmed | denied
	Details  string
}
