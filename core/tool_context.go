package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/contextloop/logging"
)

// ToolContext provides a constrained surface for tool implementations. Tools
// see the invocation context, the originating call and a read-only snapshot
// of the thread; they cannot append to the thread themselves.
type ToolContext struct {
	ctx    context.Context
	thread Thread
	call   ToolCall
	log    *callLogger
}

// NewToolContext binds a tool invocation to its context, thread snapshot and call.
func NewToolContext(ctx context.Context, thread Thread, call ToolCall, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}

	return &ToolContext{
		ctx:    ctx,
		thread: thread,
		call:   call,
		log:    newCallLogger(logger, thread.ID(), call),
	}
}

// Context returns the context associated with the tool invocation. It carries
// the per-call deadline.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ThreadID returns the id of the thread the call belongs to.
func (tc *ToolContext) ThreadID() string { return tc.thread.ID() }

// CallID returns the tool call id being answered.
func (tc *ToolContext) CallID() string { return tc.call.ID }

// ToolName returns the name of the invoked tool.
func (tc *ToolContext) ToolName() string { return tc.call.Name }

// History returns the thread as it was when the call was made.
func (tc *ToolContext) History() Thread { return tc.thread }

// Logger returns a logger whose entries name the thread, call and tool.
func (tc *ToolContext) Logger() logging.Logger { return tc.log }

// LogDebug logs a debug message scoped to the invocation.
func (tc *ToolContext) LogDebug(msg string, args ...any) { tc.log.Debug(msg, args...) }

// LogInfo logs an info message scoped to the invocation.
func (tc *ToolContext) LogInfo(msg string, args ...any) { tc.log.Info(msg, args...) }

// LogWarn logs a warning scoped to the invocation.
func (tc *ToolContext) LogWarn(msg string, args ...any) { tc.log.Warn(msg, args...) }

// LogError logs an error scoped to the invocation.
func (tc *ToolContext) LogError(msg string, args ...any) { tc.log.Error(msg, args...) }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.call.ID == "" || tc.call.Name == "" {
		return fmt.Errorf("invalid ToolContext: missing call id or tool name")
	}

	return nil
}
