package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLSink_WritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer

	sink := NewJSONLSink(&buf, nil)
	sink.Emit(Record{Event: EventIteration, ThreadID: "t1", Iteration: 1, Transition: "AWAITING_MODEL->DONE"})
	sink.Emit(Record{Event: EventLoopTerminated, ThreadID: "t1", Iteration: 1, ErrorKind: "budget_exhausted"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "iteration", first["event"])
	assert.Equal(t, "t1", first["thread_id"])
	assert.NotEmpty(t, first["timestamp"])

	var second Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "budget_exhausted", second.ErrorKind)
}

func TestOpenJSONLSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	for i := 0; i < 2; i++ {
		sink, err := OpenJSONLSink(path, nil)
		require.NoError(t, err)
		sink.Emit(Record{Event: EventIteration, Iteration: i + 1})
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestMemorySink_Filter(t *testing.T) {
	sink := NewMemorySink()
	MultiSink{sink, NopSink{}, nil}.Emit(Record{Event: EventModelRetry})
	sink.Emit(Record{Event: EventIteration})
	sink.Emit(Record{Event: EventModelRetry})

	assert.Len(t, sink.Records(), 3)
	assert.Len(t, sink.Filter(EventModelRetry), 2)
	assert.Empty(t, sink.Filter(EventModelFallback))
}

func TestSlogSink_ErrorKindRaisesLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	NewSlogSink(logger).Emit(Record{Event: EventLoopTerminated, ErrorKind: "persistence_error", Elapsed: time.Millisecond})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "loop_terminated", line["msg"])
	assert.Equal(t, "persistence_error", line["error_kind"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestContextLogger_AttachesThread(t *testing.T) {
	var buf bytes.Buffer

	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).WithComponent("loop").WithThread("t-9")
	l.Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "loop", line["component"])
	assert.Equal(t, "t-9", line["thread_id"])
	assert.Equal(t, "v", line["k"])
}

func TestSlogSink_AttrsInKeyOrder(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	for range 5 {
		NewSlogSink(logger).Emit(Record{Event: EventModelRetry, Attrs: map[string]any{"wait_ms": 10, "attempt": 1, "model": "m", "error": "x"}})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	for _, line := range lines {
		assert.Equal(t, "level=INFO msg=model_retry iteration=0 attempt=1 error=x model=m wait_ms=10", line)
	}
}

func TestLogToolCall(t *testing.T) {
	var buf bytes.Buffer

	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).WithComponent("tools")

	LogToolCall(l, "calculate", 3*time.Millisecond, nil, "call_id", "c1")
	LogToolCall(l, "calculate", time.Millisecond, errors.New("boom"), "call_id", "c2")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ok, failed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))

	assert.Equal(t, "INFO", ok["level"])
	assert.Equal(t, "Tool execution completed", ok["msg"])
	assert.Equal(t, "calculate", ok["tool_name"])
	assert.Equal(t, 3.0, ok["duration_ms"])
	assert.Equal(t, true, ok["success"])
	assert.Equal(t, "c1", ok["call_id"])
	assert.Equal(t, "tools", ok["component"])

	assert.Equal(t, "WARN", failed["level"])
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, "boom", failed["error"])
}

func TestLogModelCall(t *testing.T) {
	var buf bytes.Buffer

	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	LogModelCall(l, "gpt", 2, time.Millisecond, errors.New("rate limited"), "fallback", true)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "Model call failed", line["msg"])
	assert.Equal(t, "gpt", line["model"])
	assert.Equal(t, 2.0, line["attempt"])
	assert.Equal(t, true, line["fallback"])
	assert.Equal(t, "rate limited", line["error"])

	buf.Reset()
	LogModelCall(NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf}), "gpt", 1, time.Millisecond, nil)
	assert.Empty(t, buf.String())
}

func TestStartTimer(t *testing.T) {
	var buf bytes.Buffer

	stop := StartTimer(NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}), "backup", "path", "x.db")
	stop()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Operation completed", line["msg"])
	assert.Equal(t, "backup", line["operation"])
	assert.Equal(t, "x.db", line["path"])
	assert.Contains(t, line, "duration_ms")
}
