package core

import (
	"encoding/json"
	"time"
)

// Thread is an immutable, ordered history of events identified by ID.
//
// Contract:
//   - Append never mutates the receiver; it returns a new Thread
//   - Events returns a copy, so callers cannot rewrite history
//   - The zero Thread has no id and no events
//
// Threads are plain values and are safe to share between goroutines.
type Thread struct {
	id        string
	createdAt time.Time
	events    []Event
}

// NewThread creates an empty thread. An empty id is replaced with a fresh one.
func NewThread(id string, createdAt time.Time) Thread {
	if id == "" {
		id = NewID()
	}

	return Thread{id: id, createdAt: createdAt.UTC()}
}

// RestoreThread rebuilds a thread from persisted parts. It is meant for store
// implementations.
func RestoreThread(id string, createdAt time.Time, events []Event) Thread {
	t := Thread{id: id, createdAt: createdAt.UTC()}
	return t.Append(events...)
}

// ID returns the thread identifier.
func (t Thread) ID() string { return t.id }

// CreatedAt returns the creation time in UTC.
func (t Thread) CreatedAt() time.Time { return t.createdAt }

// Len returns the number of events.
func (t Thread) Len() int { return len(t.events) }

// IsZero reports whether t is the zero Thread.
func (t Thread) IsZero() bool { return t.id == "" && len(t.events) == 0 }

// Events returns a copy of the ordered event history.
func (t Thread) Events() []Event {
	out := make([]Event, len(t.events))
	for i, e := range t.events {
		out[i] = e.clone()
	}

	return out
}

// At returns the event at index i.
func (t Thread) At(i int) Event { return t.events[i].clone() }

// Last returns the newest event and false if the thread is empty.
func (t Thread) Last() (Event, bool) {
	if len(t.events) == 0 {
		return Event{}, false
	}

	return t.events[len(t.events)-1].clone(), true
}

// Append returns a new thread holding t's events followed by evs. The new
// thread never shares its backing array with t, and appended payloads are
// copied in their JSON form.
func (t Thread) Append(evs ...Event) Thread {
	if len(t.events)+len(evs) == 0 {
		return Thread{id: t.id, createdAt: t.createdAt}
	}

	next := make([]Event, 0, len(t.events)+len(evs))
	next = append(next, t.events...)

	for _, e := range evs {
		next = append(next, e.normalized())
	}

	return Thread{id: t.id, createdAt: t.createdAt, events: next}
}

// PendingCalls returns, in order, the tool calls that have no matching result.
// A non-empty result means the thread is awaiting completion.
func (t Thread) PendingCalls() []ToolCall {
	answered := make(map[string]struct{})

	for _, e := range t.events {
		if e.Kind == EventToolResult && e.Result != nil {
			answered[e.Result.CallID] = struct{}{}
		}
	}

	var pending []ToolCall

	for _, e := range t.events {
		if e.Kind != EventToolCall || e.Call == nil {
			continue
		}

		if _, ok := answered[e.Call.ID]; !ok {
			c := *e.Call
			c.Arguments = cloneArgs(c.Arguments)
			pending = append(pending, c)
		}
	}

	return pending
}

// AwaitingCompletion reports whether any tool call is still unanswered.
func (t Thread) AwaitingCompletion() bool { return len(t.PendingCalls()) > 0 }

// Validate checks that every tool result references an earlier tool call of
// this thread and that no call is answered twice.
func (t Thread) Validate() error {
	calls := make(map[string]bool) // id -> answered

	for i, e := range t.events {
		switch e.Kind {
		case EventToolCall:
			if e.Call == nil {
				return &LinkageError{Index: i, Reason: "tool call without payload"}
			}

			calls[e.Call.ID] = false
		case EventToolResult:
			if e.Result == nil {
				return &LinkageError{Index: i, Reason: "tool result without payload"}
			}

			answered, ok := calls[e.Result.CallID]
			if !ok {
				return &LinkageError{Index: i, CallID: e.Result.CallID, Reason: "references no earlier tool call"}
			}

			if answered {
				return &LinkageError{Index: i, CallID: e.Result.CallID, Reason: "answers an already answered call"}
			}

			calls[e.Result.CallID] = true
		}
	}

	return nil
}

type threadJSON struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Events    []Event   `json:"events"`
}

// MarshalJSON encodes the thread with its events in order.
func (t Thread) MarshalJSON() ([]byte, error) {
	events := t.events
	if events == nil {
		events = []Event{}
	}

	return json.Marshal(threadJSON{ID: t.id, CreatedAt: t.createdAt, Events: events})
}

// UnmarshalJSON decodes a thread produced by MarshalJSON.
func (t *Thread) UnmarshalJSON(data []byte) error {
	var raw threadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = RestoreThread(raw.ID, raw.CreatedAt, raw.Events)

	return nil
}
