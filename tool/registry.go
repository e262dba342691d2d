package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/util"
	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/model"
)

// Spec is a registered tool together with its compiled argument schema.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Capability  Capability
	// Category is the optional display tag, empty when the tool has none.
	Category string
	// Timeout is the per-call deadline for this tool, zero for the registry default.
	Timeout time.Duration

	schema *util.Schema
	tool   Tool
}

// Validate checks args against the tool's schema.
func (s *Spec) Validate(args map[string]any) error {
	if err := s.schema.Validate(args); err != nil {
		return &ToolError{Tool: s.Name, Message: err.Error(), Code: core.KindInvalidArgs, Err: err}
	}

	return nil
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// DefaultTimeout bounds every invocation whose tool declares no timeout.
	// Zero disables the bound.
	DefaultTimeout time.Duration
}

// Registry is a concurrency safe set of tools keyed by unique name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	opts  RegistryOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Registry{specs: make(map[string]*Spec), opts: opts}
}

// Register compiles the tool's schema and adds it. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.New("tool: cannot register a tool without a name")
	}

	schema, err := util.CompileSchema(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name(), err)
	}

	spec := &Spec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schema.Raw(),
		Capability:  CapabilityEffectful,
		schema:      schema,
		tool:        t,
	}

	if c, ok := t.(Capable); ok && c.Capability() != "" {
		spec.Capability = c.Capability()
	}

	if c, ok := t.(Categorized); ok {
		spec.Category = c.Category()
	}

	if tt, ok := t.(interface{ Timeout() time.Duration }); ok {
		spec.Timeout = tt.Timeout()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}

	r.specs[spec.Name] = spec

	return nil
}

// MustRegister is like Register but panics on error. Use it for tools wired
// at startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the spec registered under name.
func (r *Registry) Resolve(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return nil, NewToolError(name, "no tool registered under this name", core.KindUnknownTool)
	}

	return spec, nil
}

// Specs returns all registered specs sorted by name.
func (r *Registry) Specs() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Definitions returns the model facing definitions of all tools, sorted by name.
func (r *Registry) Definitions() []model.ToolDefinition {
	specs := r.Specs()

	defs := make([]model.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = model.NewToolDefinition(s.Name, s.Description, s.Parameters)
	}

	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.specs)
}

// Invoke validates the call's arguments and runs the tool.
//
// Argument validation failures return a *ToolError with code
// invalid_arguments and the tool is not executed. Once the tool runs, every
// failure (returned error, panic, deadline) is folded into the returned
// ToolResult and the error is nil.
func (r *Registry) Invoke(ctx context.Context, th core.Thread, spec *Spec, call core.ToolCall) (core.ToolResult, error) {
	if err := spec.Validate(call.Arguments); err != nil {
		return core.ToolResult{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	toolCtx := core.NewToolContext(callCtx, th, call, r.opts.Logger)

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		var o outcome

		defer func() {
			if rec := recover(); rec != nil {
				r.opts.Logger.Error("tool.call.panic", "tool", spec.Name, "call_id", call.ID, "recover", rec, "stack", string(debug.Stack()))
				o = outcome{err: panicError(rec)}
			}
			done <- o
		}()

		o.value, o.err = spec.tool.Call(toolCtx, call.Arguments)
	}()

	var o outcome

	select {
	case o = <-done:
	case <-callCtx.Done():
		// The tool goroutine is abandoned; it owns a buffered channel and exits on its own.
		o = outcome{err: fmt.Errorf("tool did not finish: %w", callCtx.Err())}
	}

	dur := time.Since(start)

	if o.err != nil {
		logging.LogToolCall(r.opts.Logger, spec.Name, dur, o.err, "call_id", call.ID, "capability", string(spec.Capability))

		return core.ToolResult{
			CallID:    call.ID,
			Name:      spec.Name,
			Error:     o.err.Error(),
			ErrorKind: core.KindToolExecution,
		}, nil
	}

	logging.LogToolCall(r.opts.Logger, spec.Name, dur, nil, "call_id", call.ID, "capability", string(spec.Capability))

	return core.ToolResult{CallID: call.ID, Name: spec.Name, Output: o.value}, nil
}

// Execute resolves and invokes call, folding every failure into the result.
// It never returns an unclassified failure: unknown names yield
// unknown_tool, schema violations invalid_arguments, and runtime failures
// tool_execution_error.
func (r *Registry) Execute(ctx context.Context, th core.Thread, call core.ToolCall) core.ToolResult {
	spec, err := r.Resolve(call.Name)
	if err != nil {
		return failure(call, err)
	}

	res, err := r.Invoke(ctx, th, spec, call)
	if err != nil {
		return failure(call, err)
	}

	return res
}

func failure(call core.ToolCall, err error) core.ToolResult {
	kind := core.KindToolExecution

	var te *ToolError
	if errors.As(err, &te) && te.Code != "" {
		kind = te.Code
	}

	return core.ToolResult{CallID: call.ID, Name: call.Name, Error: err.Error(), ErrorKind: kind}
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	return fmt.Errorf("tool panicked: %v", r)
}
