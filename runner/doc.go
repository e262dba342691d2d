// Package runner hydrates threads from a store and drives them through an
// agent loop, one run per thread id at a time.
//
// A Runner owns the run bookkeeping around agent.Loop: it loads the thread
// (or creates it with a fresh id), appends and persists the user message,
// starts the loop, and tracks the active run so it can be cancelled. Two runs
// on the same thread id are rejected with ErrThreadBusy; distinct ids run
// concurrently up to MaxConcurrentRuns.
package runner
