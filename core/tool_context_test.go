package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/logging"
)

func TestToolContext_LogsAreScopedToCall(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	th := NewThread("t1", created).Append(NewToolCall("c1", "lookup", nil))
	tc := NewToolContext(context.Background(), th, *th.At(0).Call, logger)

	tc.LogDebug("first", "k", "v")
	tc.LogWarn("second")
	tc.Logger().Info("third")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	for _, raw := range lines {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		assert.Equal(t, "t1", line["thread_id"])
		assert.Equal(t, "c1", line["call_id"])
		assert.Equal(t, "lookup", line["tool_name"])
	}

	assert.Contains(t, lines[0], `"k":"v"`)
	assert.Contains(t, lines[1], `"level":"WARN"`)
}

func TestToolContext_NilLogger(t *testing.T) {
	th := NewThread("t1", created)
	tc := NewToolContext(nil, th, ToolCall{ID: "c1", Name: "x"}, nil)

	assert.NotPanics(t, func() { tc.LogError("ignored") })
	assert.NotNil(t, tc.Context())
	require.NoError(t, tc.Validate())
	assert.Error(t, NewToolContext(context.Background(), th, ToolCall{}, nil).Validate())
}
