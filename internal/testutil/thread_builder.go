package testutil

import (
	"time"

	"github.com/hupe1980/contextloop/core"
)

// FixedTime is the creation time used by builders unless overridden.
var FixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// ThreadBuilder provides a fluent helper for constructing threads in tests.
// Example:
//
//	th := NewThreadBuilder("t1").User("hi").Call("c1", "echo", map[string]any{"text": "x"}).Result("c1", "echo", "x").Build()
//
// Chain only the events you need; the id and creation time are deterministic.
type ThreadBuilder struct {
	id        string
	createdAt time.Time
	events    []core.Event
}

// NewThreadBuilder creates a builder for thread id.
func NewThreadBuilder(id string) *ThreadBuilder {
	return &ThreadBuilder{id: id, createdAt: FixedTime}
}

// CreatedAt overrides the creation time (chainable).
func (b *ThreadBuilder) CreatedAt(t time.Time) *ThreadBuilder { b.createdAt = t; return b }

// User appends a user message (chainable).
func (b *ThreadBuilder) User(text string) *ThreadBuilder {
	b.events = append(b.events, core.NewUserMessage(text))
	return b
}

// Assistant appends an assistant message (chainable).
func (b *ThreadBuilder) Assistant(text string) *ThreadBuilder {
	b.events = append(b.events, core.NewAssistantMessage(text))
	return b
}

// Call appends a tool call (chainable).
func (b *ThreadBuilder) Call(id, name string, args map[string]any) *ThreadBuilder {
	b.events = append(b.events, core.NewToolCall(id, name, args))
	return b
}

// Result appends a successful tool result (chainable).
func (b *ThreadBuilder) Result(callID, name string, output any) *ThreadBuilder {
	b.events = append(b.events, core.NewToolResult(callID, name, output))
	return b
}

// Failure appends a failed tool result (chainable).
func (b *ThreadBuilder) Failure(callID, name string, kind core.ErrorKind, err error) *ThreadBuilder {
	b.events = append(b.events, core.NewToolFailure(callID, name, kind, err))
	return b
}

// Event appends an arbitrary event (chainable).
func (b *ThreadBuilder) Event(e core.Event) *ThreadBuilder {
	b.events = append(b.events, e)
	return b
}

// Build constructs the thread.
func (b *ThreadBuilder) Build() core.Thread {
	return core.RestoreThread(b.id, b.createdAt, b.events)
}

// Events returns the events appended so far.
func (b *ThreadBuilder) Events() []core.Event {
	return append([]core.Event(nil), b.events...)
}
