package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/testutil"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL
		o.Model = "claude-test"
	})
}

func TestComplete_ToolUse(t *testing.T) {
	var body map[string]any

	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)

		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(data, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "tu_1", "name": "calculate", "input": {"expression": "2*3"}}
			],
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	})

	th := testutil.NewThreadBuilder("t1").
		User("what is 2*3?").
		Call("c1", "calculate", map[string]any{"expression": "2*3"}).
		Call("c2", "echo", map[string]any{"text": "hi"}).
		Result("c1", "calculate", 6.0).
		Failure("c2", "echo", core.KindToolExecution, errors.New("boom")).
		Build()

	decision, err := m.Complete(context.Background(), model.Request{
		ModelID:      "claude-override",
		Instructions: "be brief",
		Prompt:       prompt.Project(th),
		Tools: []model.ToolDefinition{
			model.NewToolDefinition("calculate", "evaluate", map[string]any{
				"type":       "object",
				"properties": map[string]any{"expression": map[string]any{"type": "string"}},
				"required":   []any{"expression"},
			}),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "let me check", decision.Text)
	require.Len(t, decision.ToolRequests, 1)
	assert.Equal(t, "tu_1", decision.ToolRequests[0].ID)
	assert.Equal(t, "calculate", decision.ToolRequests[0].Name)
	assert.Equal(t, map[string]any{"expression": "2*3"}, decision.ToolRequests[0].Arguments)
	require.NotNil(t, decision.Usage)
	assert.Equal(t, 19, decision.Usage.TotalTokens)

	assert.Equal(t, "claude-override", body["model"])

	// user, assistant(tool_use x2), user(tool_result x2)
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)

	last := messages[2].(map[string]any)
	assert.Equal(t, "user", last["role"])

	content := last["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "tool_result", content[0].(map[string]any)["type"])
	assert.Equal(t, true, content[1].(map[string]any)["is_error"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "calculate", tools[0].(map[string]any)["name"])
}

func TestComplete_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.ErrorKind
	}{
		{"rate limit", http.StatusTooManyRequests, model.KindRateLimit},
		{"auth", http.StatusUnauthorized, model.KindAuthentication},
		{"bad request", http.StatusBadRequest, model.KindMalformedRequest},
		{"overloaded", 529, model.KindTransport},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"some_error","message":"nope"}}`)
			})

			_, err := m.Complete(context.Background(), model.Request{
				Prompt: prompt.Project(testutil.NewThreadBuilder("t").User("hi").Build()),
			})
			require.Error(t, err)
			assert.Equal(t, tc.want, model.KindOf(err))
		})
	}
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "claude-x" })

	info := m.Info()
	assert.Equal(t, "claude-x", info.Name)
	assert.Equal(t, "anthropic", info.Provider)
	assert.True(t, info.SupportsTools)
}
