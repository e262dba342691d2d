// Package tool implements the tool calling subsystem: a registry of named
// capabilities with schema validated arguments, where every failure of an
// invocation is reported back as data rather than aborting the caller.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/contextloop/core"
)

// Tool defines the interface for extending the agent with external functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a JSON schema for parameters
//   - Honor toolCtx.Context() cancellation for long running work
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description is provided to the model to help it decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Capability tags a tool as pure or effectful. It is used for logging and
// auditing only; the registry treats both alike.
type Capability string

const (
	CapabilityPure      Capability = "pure"
	CapabilityEffectful Capability = "effectful"
)

// Capable is implemented by tools that declare their capability. Tools that
// do not are treated as effectful.
type Capable interface {
	Capability() Capability
}

// Categorized is implemented by tools that carry a free form category tag
// such as "math" or "text". The tag only groups tools for display.
type Categorized interface {
	Category() string
}

var (
	// ErrUnknownTool matches errors for names absent from the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments matches errors for arguments violating the schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolError represents a failure to resolve or invoke a tool.
type ToolError struct {
	Tool    string         `json:"tool"`
	Message string         `json:"message"`
	Code    core.ErrorKind `json:"code"`
	Err     error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Is matches the package sentinels by code.
func (e *ToolError) Is(target error) bool {
	switch target {
	case ErrUnknownTool:
		return e.Code == core.KindUnknownTool
	case ErrInvalidArguments:
		return e.Code == core.KindInvalidArgs
	}
	return false
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message string, code core.ErrorKind) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
