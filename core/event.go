package core

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventKind discriminates the closed set of event variants.
type EventKind string

const (
	EventUserMessage      EventKind = "user_message"
	EventAssistantMessage EventKind = "assistant_message"
	EventToolCall         EventKind = "tool_call"
	EventToolResult       EventKind = "tool_result"
)

// ToolCall is a request, made by the model, to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of a ToolCall. Exactly one of Output or Error is
// meaningful: a non-empty Error marks a failed invocation and ErrorKind
// classifies it.
type ToolResult struct {
	CallID    string    `json:"call_id"`
	Name      string    `json:"name"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// IsError reports whether the result describes a failed invocation.
func (r ToolResult) IsError() bool { return r.Error != "" }

// Event is one immutable entry of a Thread. Kind selects which payload field
// is populated: Text for messages, Call for tool calls, Result for tool
// results. Events carry no timestamp; their index in the thread is the only
// ordering key.
type Event struct {
	Kind   EventKind   `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Call   *ToolCall   `json:"call,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

// NewUserMessage creates a user-authored text event.
func NewUserMessage(text string) Event {
	return Event{Kind: EventUserMessage, Text: text}
}

// NewAssistantMessage creates a final assistant text event.
func NewAssistantMessage(text string) Event {
	return Event{Kind: EventAssistantMessage, Text: text}
}

// NewToolCall creates a tool call event. The arguments are copied in their
// JSON form, so later mutation by the caller does not leak into history and
// numbers are float64 exactly as after a store round trip. An empty id is
// replaced with a fresh one.
func NewToolCall(id, name string, args map[string]any) Event {
	if id == "" {
		id = NewID()
	}

	return Event{Kind: EventToolCall, Call: &ToolCall{ID: id, Name: name, Arguments: normalizeArgs(args)}}
}

// NewToolResult records the successful outcome of the call identified by
// callID. The output is stored in its JSON form.
func NewToolResult(callID, name string, output any) Event {
	return Event{Kind: EventToolResult, Result: &ToolResult{CallID: callID, Name: name, Output: normalize(output)}}
}

// NewToolFailure records a failed tool invocation as data.
func NewToolFailure(callID, name string, kind ErrorKind, err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	return Event{Kind: EventToolResult, Result: &ToolResult{CallID: callID, Name: name, Error: msg, ErrorKind: kind}}
}

// ResultEvent wraps an already built ToolResult into an event.
func ResultEvent(r ToolResult) Event {
	r.Output = normalize(r.Output)
	return Event{Kind: EventToolResult, Result: &r}
}

// NewID generates a new unique identifier for threads and tool calls.
func NewID() string { return uuid.NewString() }

// IsMessage reports whether the event is a user or assistant text message.
func (e Event) IsMessage() bool {
	return e.Kind == EventUserMessage || e.Kind == EventAssistantMessage
}

// clone returns a copy that shares no mutable state with e.
func (e Event) clone() Event {
	if e.Call != nil {
		c := *e.Call
		c.Arguments = cloneArgs(c.Arguments)
		e.Call = &c
	}

	if e.Result != nil {
		r := *e.Result
		r.Output = deepCopy(r.Output)
		e.Result = &r
	}

	return e
}

// normalized is like clone but also converts payloads to their JSON form.
func (e Event) normalized() Event {
	if e.Call != nil {
		c := *e.Call
		c.Arguments = normalizeArgs(c.Arguments)
		e.Call = &c
	}

	if e.Result != nil {
		r := *e.Result
		r.Output = normalize(r.Output)
		e.Result = &r
	}

	return e
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}

	return deepCopy(args).(map[string]any)
}

func normalizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}

	if m, ok := normalize(args).(map[string]any); ok && m != nil {
		return m
	}

	return cloneArgs(args)
}

// normalize converts v to what encoding/json decodes it to: maps, slices,
// float64, string, bool or nil. Values json cannot encode are deep copied
// unchanged.
func normalize(v any) any {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return deepCopy(v)
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return deepCopy(v)
	}

	return out
}

// deepCopy copies the JSON container types recursively. Other values are
// returned as is.
func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return x
		}

		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = deepCopy(e)
		}

		return m
	case []any:
		if x == nil {
			return x
		}

		s := make([]any, len(x))
		for i, e := range x {
			s[i] = deepCopy(e)
		}

		return s
	default:
		return v
	}
}
