package prompt

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/contextloop/core"
)

// Role tags a block with its conversational author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Call is one tool request inside an assistant block.
type Call struct {
	ID        string         `yaml:"id" json:"id"`
	Name      string         `yaml:"name" json:"name"`
	Arguments map[string]any `yaml:"arguments" json:"arguments"`
}

// Result is the payload of a tool block.
type Result struct {
	CallID    string `yaml:"call_id" json:"call_id"`
	Name      string `yaml:"name" json:"name"`
	Output    any    `yaml:"output,omitempty" json:"output,omitempty"`
	Error     string `yaml:"error,omitempty" json:"error,omitempty"`
	ErrorKind string `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
}

// Block is one message of the projected prompt. Text is set for user and
// final assistant blocks, ToolCalls for assistant blocks requesting tools and
// ToolResult for tool blocks.
type Block struct {
	Role       Role    `yaml:"role" json:"role"`
	Text       string  `yaml:"text,omitempty" json:"text,omitempty"`
	ToolCalls  []Call  `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	ToolResult *Result `yaml:"tool_result,omitempty" json:"tool_result,omitempty"`
}

// Prompt is the ordered projection of a thread.
type Prompt struct {
	ThreadID string  `yaml:"thread_id,omitempty" json:"thread_id,omitempty"`
	Blocks   []Block `yaml:"messages" json:"messages"`
}

// Project converts a thread into its prompt. It is total over well-formed
// threads and deterministic.
func Project(t core.Thread) Prompt {
	p := ProjectEvents(t.Events())
	p.ThreadID = t.ID()

	return p
}

// ProjectEvents converts an ordered event slice into a prompt. Consecutive
// tool calls collapse into a single assistant block, keeping their order.
func ProjectEvents(events []core.Event) Prompt {
	blocks := make([]Block, 0, len(events))

	for _, e := range events {
		switch e.Kind {
		case core.EventUserMessage:
			blocks = append(blocks, Block{Role: RoleUser, Text: e.Text})
		case core.EventAssistantMessage:
			blocks = append(blocks, Block{Role: RoleAssistant, Text: e.Text})
		case core.EventToolCall:
			if e.Call == nil {
				continue
			}

			c := Call{ID: e.Call.ID, Name: e.Call.Name, Arguments: e.Call.Arguments}
			if c.Arguments == nil {
				c.Arguments = map[string]any{}
			}

			if n := len(blocks); n > 0 && blocks[n-1].Role == RoleAssistant && len(blocks[n-1].ToolCalls) > 0 {
				blocks[n-1].ToolCalls = append(blocks[n-1].ToolCalls, c)
				continue
			}

			blocks = append(blocks, Block{Role: RoleAssistant, ToolCalls: []Call{c}})
		case core.EventToolResult:
			if e.Result == nil {
				continue
			}

			blocks = append(blocks, Block{Role: RoleTool, ToolResult: &Result{
				CallID:    e.Result.CallID,
				Name:      e.Result.Name,
				Output:    e.Result.Output,
				Error:     e.Result.Error,
				ErrorKind: string(e.Result.ErrorKind),
			}})
		}
	}

	return Prompt{Blocks: blocks}
}

// YAML renders the prompt as YAML. Map keys are emitted in sorted order, so
// identical prompts always produce identical bytes.
func (p Prompt) YAML() ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(p); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Len returns the number of blocks.
func (p Prompt) Len() int { return len(p.Blocks) }

// Content renders a tool result as the single string most provider APIs
// expect. Strings pass through; other values are JSON encoded with sorted keys.
// Failures render as an error object so the model can react to them.
func (r Result) Content() string {
	if r.Error != "" {
		data, _ := json.Marshal(map[string]string{"error": r.Error, "error_kind": r.ErrorKind})
		return string(data)
	}

	if s, ok := r.Output.(string); ok {
		return s
	}

	data, err := json.Marshal(r.Output)
	if err != nil {
		return ""
	}

	return string(data)
}
