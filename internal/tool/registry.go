package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// ErrDuplicateTool is returned by Register in strict mode when a tool
// name is already taken.
var ErrDuplicateTool = errors.New("duplicate tool registration")

// ErrUnknownTool is returned when a call names a tool that was never
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports arguments that do not satisfy a tool's schema.
// It is recoverable: the loop reflects it back to the model as a
// corrective tool result.
type ValidationError struct {
	Tool    string
	Missing []string
	Unknown []string
	Detail  string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown fields: "+strings.Join(e.Unknown, ", "))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Options tunes registry behavior.
type Options struct {
	// Strict makes duplicate registrations and unknown argument fields
	// hard errors instead of overwrite/ignore.
	Strict bool
}

// Registry holds tool definitions and their bound implementations.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]domain.ToolDefinition
	impls  map[string]domain.Tool
	strict bool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger, opts Options) *Registry {
	return &Registry{
		defs:   make(map[string]domain.ToolDefinition),
		impls:  make(map[string]domain.Tool),
		strict: opts.Strict,
		logger: logger,
	}
}

// Register adds or overwrites a tool by name. In strict mode a duplicate
// name returns ErrDuplicateTool.
func (r *Registry) Register(def domain.ToolDefinition, impl domain.Tool) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition without a name")
	}
	if def.Risk == "" {
		def.Risk = domain.RiskSafe
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists && r.strict {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.defs[def.Name] = def
	r.impls[def.Name] = impl
	r.logger.Debug("registered tool", "name", def.Name, "risk", def.Risk)
	return nil
}

// Definition returns the schema for a single tool.
func (r *Registry) Definition(name string) (domain.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Count returns the number of registered tools. Startup asserts this is
// non-zero so catalog load failures cannot pass silently.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns schemas for the given subset of tool names, in
// the structured form native mode sends to the provider. A nil subset
// means all tools. Unknown names in the subset are skipped.
func (r *Registry) Definitions(subset []string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if subset == nil {
		subset = make([]string, 0, len(r.defs))
		for n := range r.defs {
			subset = append(subset, n)
		}
		sort.Strings(subset)
	}

	defs := make([]domain.ToolDefinition, 0, len(subset))
	for _, n := range subset {
		if def, ok := r.defs[n]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// ValidateArgs checks args against the stored schema. Missing required
// fields always fail; unknown fields fail only in strict mode.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	def, ok := r.Definition(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	verr := &ValidationError{Tool: name}
	for _, p := range def.Params {
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			verr.Missing = append(verr.Missing, p.Name)
		}
	}
	for k := range args {
		if _, known := def.Param(k); !known {
			verr.Unknown = append(verr.Unknown, k)
		}
	}

	if len(verr.Missing) > 0 {
		return verr
	}
	if r.strict && len(verr.Unknown) > 0 {
		return verr
	}
	return nil
}

// Execute validates args and invokes the bound implementation exactly
// once. Implementation faults become error results, never panics or
// raw errors to the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) domain.ExecutionResult {
	r.mu.RLock()
	def, ok := r.defs[name]
	impl := r.impls[name]
	r.mu.RUnlock()

	if !ok {
		return domain.ErrorResult(domain.ErrKindUnknownTool,
			fmt.Sprintf("unknown tool: %s (available: %s)", name, strings.Join(r.Names(), ", ")))
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return domain.ErrorResult(domain.ErrKindValidation, err.Error())
	}
	if impl == nil {
		return domain.ErrorResult(domain.ErrKindExecutionFault,
			fmt.Sprintf("tool %s has no bound implementation", name))
	}

	args = applyDefaults(def, args)
	if !r.strict {
		args = dropUnknown(def, args)
	}

	payload, err := r.invoke(ctx, impl, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrorResult(domain.ErrKindTimeout, err.Error())
		}
		return domain.ErrorResult(domain.ErrKindExecutionFault, err.Error())
	}
	return domain.OKResult(payload)
}

// invoke runs the implementation, converting a panic into an error so a
// faulty tool cannot take the loop down.
func (r *Registry) invoke(ctx context.Context, impl domain.Tool, args map[string]any) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", impl.Name(), "panic", rec)
			err = fmt.Errorf("tool %s panicked: %v", impl.Name(), rec)
		}
	}()
	return impl.Execute(ctx, args)
}

func applyDefaults(def domain.ToolDefinition, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range def.Params {
		if p.Default == nil {
			continue
		}
		if _, present := out[p.Name]; !present {
			out[p.Name] = p.Default
		}
	}
	return out
}

func dropUnknown(def domain.ToolDefinition, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if _, known := def.Param(k); known {
			out[k] = v
		}
	}
	return out
}

// ArgString extracts a string-ish argument value.
func ArgString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
