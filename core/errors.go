package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the system can report.
type ErrorKind string

const (
	KindTransientModel ErrorKind = "transient_model_error"
	KindFatalModel     ErrorKind = "fatal_model_error"
	KindUnknownTool    ErrorKind = "unknown_tool"
	KindInvalidArgs    ErrorKind = "invalid_arguments"
	KindToolExecution  ErrorKind = "tool_execution_error"
	KindPersistence    ErrorKind = "persistence_error"
	KindBudget         ErrorKind = "budget_exhausted"
	KindCancelled      ErrorKind = "cancelled"
)

var (
	// ErrThreadNotFound is returned by ThreadStore.Load for unknown ids.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrBudgetExhausted is returned once the iteration budget is spent.
	ErrBudgetExhausted = errors.New("iteration budget exhausted")
)

// PersistenceError wraps a store failure with the operation and thread it hit.
type PersistenceError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s thread %q: %v", e.Op, e.ThreadID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// LinkageError reports a tool result whose call id does not reference an
// earlier tool call of the same thread.
type LinkageError struct {
	Index  int
	CallID string
	Reason string
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("event %d: tool result %q %s", e.Index, e.CallID, e.Reason)
}
