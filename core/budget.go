package core

import (
	"fmt"
	"sync"
)

// IterationBudget enforces a maximum number of loop iterations per run.
type IterationBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationBudget creates a budget of max iterations.
// If max == 0, iterations are unlimited.
func NewIterationBudget(max int) *IterationBudget {
	return &IterationBudget{max: max}
}

// Consume claims one iteration. It returns an error wrapping
// ErrBudgetExhausted, without consuming, once the limit is reached.
func (b *IterationBudget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%w: max %d", ErrBudgetExhausted, b.max)
	}

	b.count++

	return nil
}

// Used returns the number of iterations consumed so far.
func (b *IterationBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many iterations are left before hitting the limit.
func (b *IterationBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
