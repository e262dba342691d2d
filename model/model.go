package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/contextloop/prompt"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewToolDefinition is a shorthand for a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{Type: "function", Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters}}
}

// Request captures everything a model needs to make one decision.
type Request struct {
	// ModelID selects the concrete model. Empty means the adapter default.
	ModelID      string           `json:"model_id,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	Prompt       prompt.Prompt    `json:"prompt"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// ToolRequest is one tool invocation the model asks for.
type ToolRequest struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// TokenUsage captures token usage statistics for a decision.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Decision is the model's answer: final text when ToolRequests is empty,
// otherwise the ordered tool invocations to perform. Text accompanying tool
// requests is ignored by the loop.
type Decision struct {
	Text         string        `json:"text,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
	Usage        *TokenUsage   `json:"usage,omitempty"`
}

// FinalText builds a decision ending the turn with text.
func FinalText(text string) Decision { return Decision{Text: text} }

// Requests builds a decision asking for tool invocations.
func Requests(reqs ...ToolRequest) Decision { return Decision{ToolRequests: reqs} }

// IsFinal reports whether the decision ends the turn.
func (d Decision) IsFinal() bool { return len(d.ToolRequests) == 0 }

// Validate rejects decisions the loop cannot act on: empty decisions and
// tool requests without a name.
func (d Decision) Validate() error {
	if d.IsFinal() && d.Text == "" {
		return NewError(KindMalformedResponse, "decision has neither text nor tool requests", nil)
	}

	for i, r := range d.ToolRequests {
		if r.Name == "" {
			return NewError(KindMalformedResponse, fmt.Sprintf("tool request %d has no name", i), nil)
		}
	}

	return nil
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "langchain", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the capability the agent loop drives. Complete must honor ctx
// cancellation and report failures as *Error (or errors Classify understands).
type Model interface {
	Complete(ctx context.Context, req Request) (Decision, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Func adapts an ordinary function to the Model interface.
type Func func(ctx context.Context, req Request) (Decision, error)

// Complete implements Model.
func (f Func) Complete(ctx context.Context, req Request) (Decision, error) { return f(ctx, req) }

// Info implements Model.
func (f Func) Info() Info { return Info{Name: "func", Provider: "func", SupportsTools: true} }
