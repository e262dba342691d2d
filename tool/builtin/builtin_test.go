package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/internal/testutil"
	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/tool"
)

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()

	reg := tool.NewRegistry()
	require.NoError(t, Register(reg, func(o *Options) {
		o.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600)) }
	}))

	return reg
}

func run(t *testing.T, reg *tool.Registry, name string, args map[string]any) core.ToolResult {
	t.Helper()
	return reg.Execute(context.Background(), testutil.NewThreadBuilder("t1").User("hi").Build(), core.ToolCall{ID: "c1", Name: name, Arguments: args})
}

func TestBuiltins_Registered(t *testing.T) {
	reg := newRegistry(t)

	names := make([]string, 0)
	for _, s := range reg.Specs() {
		names = append(names, s.Name)
	}

	assert.Equal(t, []string{"calculate", "count_words", "echo", "format_json", "generate_uuid", "get_current_time", "thread_stats"}, names)

	spec, err := reg.Resolve("calculate")
	require.NoError(t, err)
	assert.Equal(t, tool.CapabilityPure, spec.Capability)

	spec, err = reg.Resolve("generate_uuid")
	require.NoError(t, err)
	assert.Equal(t, tool.CapabilityEffectful, spec.Capability)

	categories := map[string]string{}
	for _, s := range reg.Specs() {
		categories[s.Name] = s.Category
	}

	assert.Equal(t, map[string]string{
		"calculate":        "math",
		"count_words":      "text",
		"echo":             "text",
		"format_json":      "text",
		"generate_uuid":    "utility",
		"get_current_time": "utility",
		"thread_stats":     "introspection",
	}, categories)
}

func TestCurrentTime(t *testing.T) {
	res := run(t, newRegistry(t), "get_current_time", nil)
	assert.Equal(t, "2024-03-01 11:30:00 UTC", res.Output)
}

func TestCalculate(t *testing.T) {
	reg := newRegistry(t)

	assert.Equal(t, 6.0, run(t, reg, "calculate", map[string]any{"expression": "2*3"}).Output)
	assert.Equal(t, 2.5, run(t, reg, "calculate", map[string]any{"expression": "(1 + 4) / 2"}).Output)
	assert.Equal(t, -1.5, run(t, reg, "calculate", map[string]any{"expression": "-(3 * 0,5)"}).Output)

	bad := run(t, reg, "calculate", map[string]any{"expression": "__import__('os')"})
	assert.Equal(t, core.KindToolExecution, bad.ErrorKind)
	assert.Contains(t, bad.Error, "forbidden character")

	div := run(t, reg, "calculate", map[string]any{"expression": "1/0"})
	assert.Contains(t, div.Error, "division by zero")

	missing := run(t, reg, "calculate", map[string]any{})
	assert.Equal(t, core.KindInvalidArgs, missing.ErrorKind)
}

func TestEcho(t *testing.T) {
	reg := newRegistry(t)

	assert.Equal(t, "hi", run(t, reg, "echo", map[string]any{"text": "hi"}).Output)
	assert.Equal(t, "hi | hi | hi", run(t, reg, "echo", map[string]any{"text": "hi", "repeat": 3}).Output)

	tooMany := run(t, reg, "echo", map[string]any{"text": "hi", "repeat": 11})
	assert.Equal(t, core.KindInvalidArgs, tooMany.ErrorKind)
}

func TestCountWords(t *testing.T) {
	out := run(t, newRegistry(t), "count_words", map[string]any{"text": "one two\nthree"}).Output.(map[string]any)

	assert.Equal(t, 3, out["word_count"])
	assert.Equal(t, 2, out["line_count"])
	assert.Equal(t, 13, out["character_count"])
	assert.Equal(t, 12, out["character_count_no_spaces"])
}

func TestFormatJSON(t *testing.T) {
	reg := newRegistry(t)

	res := run(t, reg, "format_json", map[string]any{"json_string": `{"a":[1,2]}`, "indent": 1})
	assert.Equal(t, "{\n \"a\": [\n  1,\n  2\n ]\n}", res.Output)

	invalid := run(t, reg, "format_json", map[string]any{"json_string": `{nope`})
	assert.True(t, invalid.IsError())
	assert.True(t, strings.HasPrefix(invalid.Error, "invalid JSON"))
}

func TestGenerateUUID(t *testing.T) {
	reg := newRegistry(t)

	v4, err := uuid.Parse(run(t, reg, "generate_uuid", nil).Output.(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), v4.Version())

	v1, err := uuid.Parse(run(t, reg, "generate_uuid", map[string]any{"version": 1}).Output.(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(1), v1.Version())

	bad := run(t, reg, "generate_uuid", map[string]any{"version": 3})
	assert.Equal(t, core.KindInvalidArgs, bad.ErrorKind)
}

func TestThreadStats(t *testing.T) {
	th := testutil.NewThreadBuilder("t1").
		User("hi").
		Call("c1", "echo", map[string]any{"text": "x"}).
		Failure("c1", "echo", core.KindToolExecution, assert.AnError).
		Call("c2", "echo", nil).
		Build()

	s := Stats(th)
	assert.Equal(t, 4, s["event_count"])
	assert.Equal(t, 2, s["tool_calls"])
	assert.Equal(t, 1, s["tool_failures"])
	assert.Equal(t, 1, s["pending_calls"])
	assert.Equal(t, map[string]any{"echo": 2}, s["calls_by_tool"])
}

func TestThreadStats_LogsThroughToolContext(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	require.NoError(t, Register(reg))

	th := testutil.NewThreadBuilder("t7").User("hi").Call("c3", "thread_stats", nil).Build()
	res := reg.Execute(context.Background(), th, core.ToolCall{ID: "c3", Name: "thread_stats"})
	require.False(t, res.IsError())

	var stats map[string]any

	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))

		if line["msg"] == "Thread stats computed" {
			stats = line
		}
	}

	require.NotNil(t, stats)
	assert.Equal(t, "t7", stats["thread_id"])
	assert.Equal(t, "c3", stats["call_id"])
	assert.Equal(t, "thread_stats", stats["tool_name"])
	assert.Equal(t, 2.0, stats["event_count"])
	assert.Equal(t, 1.0, stats["pending_calls"])
}
