package core

import "github.com/hupe1980/contextloop/logging"

// callLogger scopes entries to one tool invocation. Every entry carries the
// thread id, the call id and the tool name.
type callLogger struct {
	logger logging.Logger
	scope  []any
}

func newCallLogger(l logging.Logger, threadID string, call ToolCall) *callLogger {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &callLogger{
		logger: l,
		scope:  []any{"thread_id", threadID, "call_id", call.ID, "tool_name", call.Name},
	}
}

func (l *callLogger) with(args []any) []any {
	out := make([]any, 0, len(l.scope)+len(args))
	out = append(out, l.scope...)

	return append(out, args...)
}

func (l *callLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.with(args)...) }
func (l *callLogger) Info(msg string, args ...any)  { l.logger.Info(msg, l.with(args)...) }
func (l *callLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, l.with(args)...) }
func (l *callLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.with(args)...) }
