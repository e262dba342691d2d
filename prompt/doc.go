// Package prompt projects a thread into the ordered, role-tagged message list
// handed to a model, and renders that projection as YAML for inspection.
//
// Projection is pure: the same thread always yields the same Prompt and the
// same YAML bytes. Windowing is a separate, explicit step (Window) composed
// before projection; Project never drops events on its own.
package prompt
