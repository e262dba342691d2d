package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Step configures one scripted model call.
type Step struct {
	Decision Decision
	Err      error
	// Delay postpones the answer; a context deadline shorter than Delay wins.
	Delay time.Duration
}

// Reply is a step returning decision d.
func Reply(d Decision) Step { return Step{Decision: d} }

// Fail is a step returning err.
func Fail(err error) Step { return Step{Err: err} }

// FailKind is a step returning a classified error of kind.
func FailKind(kind ErrorKind) Step {
	return Step{Err: NewError(kind, "scripted "+string(kind), nil)}
}

// ScriptedModel is a deterministic Model for tests and offline runs. Calls
// consume steps in order from the script registered for the request's model
// id, falling back to the default script.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	scripts  map[string][]Step
	requests []Request
}

var _ Model = (*ScriptedModel)(nil)

// NewScriptedModel creates a model whose default script is steps.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	m := &ScriptedModel{
		info:    Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		scripts: map[string][]Step{},
	}

	return m.On("", steps...)
}

// On appends steps to the script used for requests with modelID. The empty
// id is the default script.
func (m *ScriptedModel) On(modelID string, steps ...Step) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scripts[modelID] = append(m.scripts[modelID], steps...)

	return m
}

// Complete implements Model.
func (m *ScriptedModel) Complete(ctx context.Context, req Request) (Decision, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)

	key := req.ModelID
	if len(m.scripts[key]) == 0 {
		key = ""
	}

	script := m.scripts[key]
	if len(script) == 0 {
		m.mu.Unlock()
		return Decision{}, NewError(KindMalformedResponse, fmt.Sprintf("script exhausted at call %d", len(m.requests)), nil)
	}

	step := script[0]
	m.scripts[key] = script[1:]
	m.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return Decision{}, step.Err
	}

	return step.Decision, nil
}

// Requests returns every request received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Complete calls made.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// ModelIDs returns the model id of every request in call order.
func (m *ScriptedModel) ModelIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(m.requests))
	for i, r := range m.requests {
		ids[i] = r.ModelID
	}

	return ids
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
