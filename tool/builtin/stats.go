package builtin

import (
	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/tool"
)

func newThreadStatsTool() tool.Tool {
	return tool.NewFunctionTool(
		"thread_stats",
		"Reports statistics about the current conversation thread",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			s := Stats(tc.History())
			tc.LogDebug("Thread stats computed", "event_count", s["event_count"], "pending_calls", s["pending_calls"])

			return s, nil
		},
		pure,
		category("introspection"),
	)
}

// Stats summarizes a thread by event kind and tool usage.
func Stats(th core.Thread) map[string]any {
	var (
		users, assistants, calls, failures int
		byTool                             = map[string]any{}
	)

	for _, e := range th.Events() {
		switch e.Kind {
		case core.EventUserMessage:
			users++
		case core.EventAssistantMessage:
			assistants++
		case core.EventToolCall:
			calls++
			n, _ := byTool[e.Call.Name].(int)
			byTool[e.Call.Name] = n + 1
		case core.EventToolResult:
			if e.Result.IsError() {
				failures++
			}
		}
	}

	return map[string]any{
		"thread_id":          th.ID(),
		"created_at":         th.CreatedAt().Format("2006-01-02T15:04:05Z07:00"),
		"event_count":        th.Len(),
		"user_messages":      users,
		"assistant_messages": assistants,
		"tool_calls":         calls,
		"tool_failures":      failures,
		"pending_calls":      len(th.PendingCalls()),
		"calls_by_tool":      byTool,
	}
}
