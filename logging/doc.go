// Package logging provides a minimal logging interface, slog-backed adapters
// and the event sink the agent loop reports its decisions to.
//
// It offers two layers:
//
//   - Logger, a small interface for diagnostic log lines (SlogAdapter,
//     ContextLogger, NoOpLogger)
//   - Sink, a fire-and-forget receiver of structured Records describing loop
//     iterations, retries, fallbacks and termination (SlogSink, JSONLSink,
//     MemorySink, MultiSink)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "console", Output: os.Stderr})
//	sink := logging.NewSlogSink(logger.Slog())
//
// Sinks never return errors to the caller. A sink that fails to write drops
// the record and reports through its own logger.
package logging
