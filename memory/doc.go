// Package memory contains ThreadStore implementations. The store interface
// resides in the core package; depend on core.ThreadStore in your code and
// select an implementation (the in-memory store below, or memory/sqlite for
// durable storage) at wiring time.
package memory
