package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// Record event names emitted by the agent loop.
const (
	EventIteration      = "iteration"
	EventModelRetry     = "model_retry"
	EventModelFallback  = "model_fallback"
	EventToolExecuted   = "tool_executed"
	EventPersisted      = "persisted"
	EventLoopTerminated = "loop_terminated"
)

// Record is one structured observation of the agent loop.
type Record struct {
	Time       time.Time      `json:"timestamp"`
	Event      string         `json:"event"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Iteration  int            `json:"iteration"`
	Transition string         `json:"transition,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Elapsed    time.Duration  `json:"elapsed_ns,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Sink receives loop records. Emit is fire and forget and must not block for
// long; implementations are safe for concurrent use.
type Sink interface {
	Emit(r Record)
}

// NopSink drops every record.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Record) {}

// SlogSink renders records as structured log lines.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogSink creates a sink writing to logger at info level. A nil logger
// uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogSink{logger: logger, level: slog.LevelInfo}
}

// Emit implements Sink.
func (s *SlogSink) Emit(r Record) {
	attrs := []slog.Attr{slog.Int("iteration", r.Iteration)}
	if r.ThreadID != "" {
		attrs = append(attrs, slog.String("thread_id", r.ThreadID))
	}
	if r.Transition != "" {
		attrs = append(attrs, slog.String("transition", r.Transition))
	}
	if r.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", r.Elapsed))
	}
	for _, k := range slices.Sorted(maps.Keys(r.Attrs)) {
		attrs = append(attrs, slog.Any(k, r.Attrs[k]))
	}

	level := s.level
	if r.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", r.ErrorKind))
		level = slog.LevelWarn
	}

	s.logger.LogAttrs(context.Background(), level, r.Event, attrs...)
}

// JSONLSink appends records as JSON lines to a writer, one object per line.
type JSONLSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	logger Logger
}

// NewJSONLSink creates a sink writing to w. Write failures are reported to
// logger and otherwise ignored.
func NewJSONLSink(w io.Writer, logger Logger) *JSONLSink {
	if logger == nil {
		logger = NoOpLogger{}
	}

	return &JSONLSink{enc: json.NewEncoder(w), logger: logger}
}

// OpenJSONLSink opens (or creates) path in append mode.
func OpenJSONLSink(path string, logger Logger) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := NewJSONLSink(f, logger)
	s.closer = f

	return s, nil
}

// Emit implements Sink.
func (s *JSONLSink) Emit(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(r); err != nil {
		s.logger.Warn("event sink write failed", "event", r.Event, "error", err)
	}
}

// Close releases the underlying file, if the sink owns one.
func (s *JSONLSink) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}

// MemorySink keeps records in memory. It is intended for tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Emit implements Sink.
func (s *MemorySink) Emit(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
}

// Records returns a copy of all records emitted so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Record(nil), s.records...)
}

// Filter returns the records with the given event name.
func (s *MemorySink) Filter(event string) []Record {
	var out []Record

	for _, r := range s.Records() {
		if r.Event == event {
			out = append(out, r)
		}
	}

	return out
}

// MultiSink fans records out to several sinks in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(r Record) {
	for _, s := range m {
		if s != nil {
			s.Emit(r)
		}
	}
}
