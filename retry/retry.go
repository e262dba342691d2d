// Package retry implements the bounded retry and fallback policy applied to
// model calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/contextloop/model"
)

// Policy controls retries of a failed model call.
type Policy struct {
	// MaxAttempts is the number of attempts against the primary model,
	// including the first one. Values below one are treated as one.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Retryable lists the model error kinds treated as transient.
	Retryable []model.ErrorKind
	// FallbackModelID is tried once after the primary attempts are exhausted.
	FallbackModelID string
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  8 * time.Second,
		Retryable:   slices.Clone(model.DefaultRetryableKinds),
	}
}

// Validate rejects inconsistent policies.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", p.MaxAttempts)
	}

	if p.BackoffBase < 0 || p.BackoffCap < 0 {
		return errors.New("retry: backoff durations must not be negative")
	}

	if p.BackoffCap > 0 && p.BackoffBase > p.BackoffCap {
		return fmt.Errorf("retry: backoff base %s exceeds cap %s", p.BackoffBase, p.BackoffCap)
	}

	return nil
}

// Backoff returns the wait before retry n (n >= 1): base * 2^(n-1), capped.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BackoffBase <= 0 {
		return 0
	}

	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if p.BackoffCap > 0 && d >= p.BackoffCap {
			return p.BackoffCap
		}

		if d <= 0 { // overflow
			return p.BackoffCap
		}
	}

	if p.BackoffCap > 0 && d > p.BackoffCap {
		return p.BackoffCap
	}

	return d
}

// IsRetryable reports whether err is classified with a retryable kind.
func (p Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	return slices.Contains(p.Retryable, model.KindOf(err))
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Attempt describes one call made under a policy.
type Attempt struct {
	// Number counts attempts from 1; the fallback attempt continues the count.
	Number   int
	ModelID  string
	Fallback bool
}

// Options tunes Do.
type Options struct {
	// Sleep waits between attempts. It must return early with ctx.Err() when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before sleeping ahead of a retry of the failed attempt.
	OnRetry func(failed Attempt, err error, wait time.Duration)
	// OnFallback is called before the fallback attempt.
	OnFallback func(next Attempt, lastErr error)
}

// Outcome summarises what Do did.
type Outcome struct {
	Attempts     int
	Retries      int
	UsedFallback bool
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. Exhausting the primary attempts on transient errors
// triggers exactly one attempt against the fallback model when configured.
// The returned error is the last one seen, or the context error if ctx ends
// first.
func Do[T any](ctx context.Context, p Policy, modelID string, fn func(ctx context.Context, a Attempt) (T, error), optFns ...func(o *Options)) (T, Outcome, error) {
	opts := Options{Sleep: Sleep}

	for _, f := range optFns {
		f(&opts)
	}

	var (
		zero    T
		out     Outcome
		lastErr error
	)

	for n := 1; n <= p.attempts(); n++ {
		if err := ctx.Err(); err != nil {
			return zero, out, err
		}

		a := Attempt{Number: n, ModelID: modelID}
		out.Attempts++

		v, err := fn(ctx, a)
		if err == nil {
			return v, out, nil
		}

		lastErr = err

		if ctx.Err() != nil || !p.IsRetryable(err) {
			return zero, out, err
		}

		if n == p.attempts() {
			break
		}

		wait := p.Backoff(n)
		if opts.OnRetry != nil {
			opts.OnRetry(a, err, wait)
		}

		out.Retries++

		if err := opts.Sleep(ctx, wait); err != nil {
			return zero, out, err
		}
	}

	if p.FallbackModelID == "" {
		return zero, out, lastErr
	}

	a := Attempt{Number: out.Attempts + 1, ModelID: p.FallbackModelID, Fallback: true}
	if opts.OnFallback != nil {
		opts.OnFallback(a, lastErr)
	}

	out.Attempts++
	out.UsedFallback = true

	v, err := fn(ctx, a)
	if err != nil {
		return zero, out, err
	}

	return v, out, nil
}
