package openai

import (
	"context"
	"encoding/json"
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
		o.BaseURL = srv.URL + "/"
		o.Model = "gpt-test"
	})
}

func request() model.Request {
	th := testutil.NewThreadBuilder("t1").
		User("what is 2*3?").
		Call("c1", "calculate", map[string]any{"expression": "2*3"}).
		Result("c1", "calculate", 6.0).
		Failure("c1", "calculate", core.KindToolExecution, assert.AnError).
		Build()

	return model.Request{
		ModelID:      "primary-model",
		Instructions: "be brief",
		Prompt:       prompt.Project(th),
		Tools: []model.ToolDefinition{model.NewToolDefinition("calculate", "math", map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		})},
	}
}

func TestModel_CompleteToolCalls(t *testing.T) {
	var body map[string]any

	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "primary-model",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": null,
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "echo", "arguments": "{\"text\":\"hi\"}"}}]}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})

	d, err := m.Complete(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, d.ToolRequests, 1)
	assert.Equal(t, "call_9", d.ToolRequests[0].ID)
	assert.Equal(t, "echo", d.ToolRequests[0].Name)
	assert.Equal(t, map[string]any{"text": "hi"}, d.ToolRequests[0].Arguments)
	assert.Equal(t, 15, d.Usage.TotalTokens)

	assert.Equal(t, "primary-model", body["model"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 5)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])

	asst := msgs[2].(map[string]any)
	assert.Equal(t, "assistant", asst["role"])
	call := asst["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "c1", call["id"])
	assert.JSONEq(t, `{"expression":"2*3"}`, call["function"].(map[string]any)["arguments"].(string))

	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "c1", tool["tool_call_id"])
	assert.Equal(t, "6", tool["content"])

	assert.Contains(t, msgs[4].(map[string]any)["content"], "tool_execution_error")

	tools := body["tools"].([]any)
	assert.Equal(t, "calculate", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestModel_CompleteText(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"six"}}]}`)
	})

	d, err := m.Complete(context.Background(), model.Request{Prompt: prompt.Prompt{Blocks: []prompt.Block{{Role: prompt.RoleUser, Text: "hi"}}}})
	require.NoError(t, err)
	assert.True(t, d.IsFinal())
	assert.Equal(t, "six", d.Text)
}

func TestModel_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   model.ErrorKind
	}{
		{429, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, model.KindRateLimit},
		{429, `{"error":{"message":"pay up","type":"insufficient_quota","code":"insufficient_quota"}}`, model.KindQuotaExhausted},
		{401, `{"error":{"message":"bad key","type":"auth","code":"invalid_api_key"}}`, model.KindAuthentication},
		{400, `{"error":{"message":"bad","type":"invalid_request_error","code":"bad"}}`, model.KindMalformedRequest},
		{503, `{"error":{"message":"down","type":"server","code":"down"}}`, model.KindTransport},
	}

	for _, tc := range cases {
		m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		})

		_, err := m.Complete(context.Background(), model.Request{})
		require.Error(t, err)
		assert.Equal(t, tc.want, model.KindOf(err), tc.status)
	}
}

func TestModel_MalformedArguments(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant",
			"tool_calls":[{"id":"c","type":"function","function":{"name":"echo","arguments":"not json"}}]}}]}`)
	})

	_, err := m.Complete(context.Background(), model.Request{})
	assert.Equal(t, model.KindMalformedResponse, model.KindOf(err))
}

func TestModel_Info(t *testing.T) {
	info := NewModel(func(o *Options) { o.Model = "x"; o.APIKey = "k" }).Info()
	assert.Equal(t, "openai", info.Provider)
	assert.Equal(t, "x", info.Name)
}
