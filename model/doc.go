// Package model defines the provider-agnostic abstractions for asking a
// language model for its next decision.
//
// Core goals:
//   - One call per decision: Complete returns either final text or tool requests
//   - A closed failure taxonomy (ErrorKind) the retry policy can reason about
//   - Request/decision shapes that stay transport independent
//   - Deterministic scripted models for tests and offline runs (ScriptedModel)
//
// Providers (openai, anthropic, langchain) implement the Model interface from
// this package so the agent loop stays decoupled from vendor SDKs.
package model
