package tool

import (
	"time"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/util"
)

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// Capability defaults to CapabilityEffectful.
	Capability Capability
	// Category is an optional display tag.
	Category string
	// Timeout overrides the registry's per-call timeout when positive.
	Timeout time.Duration
}

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Argument validation happens in the Registry before Call is reached, so the
// wrapped function receives arguments that already satisfy the schema.
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
	opts        FunctionToolOptions
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	  func(o *FunctionToolOptions) { o.Capability = CapabilityPure },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{Capability: CapabilityEffectful}

	for _, apply := range optFns {
		apply(&opts)
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		opts:        opts,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection (see util.CreateSchema).
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn, optFns...)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Capability implements Capable.
func (t *FunctionTool) Capability() Capability { return t.opts.Capability }

// Category implements Categorized.
func (t *FunctionTool) Category() string { return t.opts.Category }

// Timeout returns the per-tool timeout, zero when the registry default applies.
func (t *FunctionTool) Timeout() time.Duration { return t.opts.Timeout }

// Call invokes the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	return t.fn(toolCtx, args)
}
