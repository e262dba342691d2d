// Package core provides the foundational domain types of contextloop:
//
//   - Events (immutable user, assistant, tool call and tool result records)
//   - Threads (immutable, append-only event histories keyed by id)
//   - ThreadStore (durable load/save/delete of threads)
//   - The error taxonomy shared by the loop, the registry and the stores
//   - ToolContext (the scoped surface handed to tool implementations)
//
// Implementation concerns (persistence backends, model transports, the agent
// loop itself) live in sibling packages and depend on core, never the reverse.
package core
