package agent

import "github.com/hupe1980/contextloop/core"

// Provider supplies instruction text at request time, derived from the
// thread being driven.
type Provider interface {
	Instruction(core.Thread) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(core.Thread) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(t core.Thread) (string, error) { return f(t) }

// Instruction is either a static string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(core.Thread) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(t core.Thread) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(t)
	}
	return i.text, nil
}
