package prompt

import "github.com/hupe1980/contextloop/core"

// Window keeps at most maxEvents of the newest events as a contiguous suffix,
// dropping the oldest first. A tool call and its results are never split: when
// the cut would separate a kept result from its call, the cut moves back to
// the call, so the window may exceed maxEvents by the rest of that group. A
// maxEvents of zero or less disables windowing.
func Window(events []core.Event, maxEvents int) []core.Event {
	if maxEvents <= 0 || len(events) <= maxEvents {
		return append([]core.Event(nil), events...)
	}

	callAt := make(map[string]int)

	for i, e := range events {
		if e.Kind == core.EventToolCall && e.Call != nil {
			callAt[e.Call.ID] = i
		}
	}

	start := len(events) - maxEvents

	for {
		next := earliestCall(events, start, callAt)
		if next == start {
			break
		}

		start = next
	}

	return append([]core.Event(nil), events[start:]...)
}

// earliestCall returns the smallest index among start and the calls that the
// tool results at or after start refer to.
func earliestCall(events []core.Event, start int, callAt map[string]int) int {
	earliest := start

	for _, e := range events[start:] {
		if e.Kind != core.EventToolResult || e.Result == nil {
			continue
		}

		if i, ok := callAt[e.Result.CallID]; ok && i < earliest {
			earliest = i
		}
	}

	return earliest
}

// ProjectWindow composes Window and ProjectEvents for a thread.
func ProjectWindow(t core.Thread, maxEvents int) Prompt {
	p := ProjectEvents(Window(t.Events(), maxEvents))
	p.ThreadID = t.ID()

	return p
}
