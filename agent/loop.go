package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
	"github.com/hupe1980/contextloop/retry"
	"github.com/hupe1980/contextloop/tool"
)

// State is a loop state.
type State string

const (
	StateAwaitingModel  State = "AWAITING_MODEL"
	StateModelResponded State = "MODEL_RESPONDED"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
	// StateResuming is entered before the first iteration when the thread
	// ends with tool calls that never got a result.
	StateResuming State = "RESUMING"
)

// IsTerminal reports whether s ends a run.
func (s State) IsTerminal() bool { return s == StateDone || s == StateFailed }

// LoopOptions configures a Loop.
type LoopOptions struct {
	Policy retry.Policy
	// MaxIterations caps model decisions per run. Zero means unlimited.
	MaxIterations int
	// PerCallTimeout bounds every model call and tool invocation. Zero
	// disables the bound.
	PerCallTimeout time.Duration
	// ModelID selects the primary model; empty uses the adapter default.
	ModelID      string
	Instructions Instruction
	// WindowSize limits the events projected into each prompt. Zero projects
	// the whole thread.
	WindowSize int
	Sink       logging.Sink
	Logger     logging.Logger
	Clock      func() time.Time
	// Sleep waits between retries; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the outcome of Run.
type Result struct {
	State State
	// Thread is the final thread value, including every event persisted
	// before a failure.
	Thread core.Thread
	// Text is the final assistant text when State is DONE.
	Text       string
	Iterations int
	Retries    int
	Failure    *Failure
}

// Failure is the structured report of a FAILED run.
type Failure struct {
	Kind core.ErrorKind
	// Cause is the model error kind for model failures.
	Cause     model.ErrorKind
	Iteration int
	Err       error
}

func (f *Failure) Error() string {
	if f.Cause != "" {
		return fmt.Sprintf("agent: %s (%s) at iteration %d: %v", f.Kind, f.Cause, f.Iteration, f.Err)
	}

	return fmt.Sprintf("agent: %s at iteration %d: %v", f.Kind, f.Iteration, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Loop drives threads through model decisions and tool executions. A Loop is
// safe for concurrent use on distinct thread ids.
type Loop struct {
	model    model.Model
	registry *tool.Registry
	store    core.ThreadStore
	opts     LoopOptions
}

// NewLoop creates a loop. The registry may be nil when no tools are offered.
func NewLoop(m model.Model, registry *tool.Registry, store core.ThreadStore, optFns ...func(o *LoopOptions)) *Loop {
	opts := LoopOptions{
		Policy:         retry.DefaultPolicy(),
		MaxIterations:  10,
		PerCallTimeout: 60 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Sink == nil {
		opts.Sink = logging.NopSink{}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}

	if registry == nil {
		registry = tool.NewRegistry()
	}

	return &Loop{model: m, registry: registry, store: store, opts: opts}
}

// Options returns the effective options.
func (l *Loop) Options() LoopOptions { return l.opts }

// Run drives th until the model produces final text or the run fails. A
// failed run returns the *Failure as error alongside the result.
func (l *Loop) Run(ctx context.Context, th core.Thread) (*Result, error) {
	r := &run{
		loop:   l,
		thread: th,
		budget: core.NewIterationBudget(l.opts.MaxIterations),
		start:  l.opts.Clock(),
	}

	return r.drive(ctx)
}

// run holds the mutable state of one Run call.
type run struct {
	loop    *Loop
	thread  core.Thread
	budget  *core.IterationBudget
	start   time.Time
	retries int
}

func (r *run) drive(ctx context.Context) (*Result, error) {
	if err := r.thread.Validate(); err != nil {
		return r.fail(&Failure{Kind: core.KindPersistence, Err: fmt.Errorf("hydrated thread is inconsistent: %w", err)})
	}

	if pending := r.thread.PendingCalls(); len(pending) > 0 {
		if f := r.resume(ctx, pending); f != nil {
			return r.fail(f)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(&Failure{Kind: core.KindCancelled, Iteration: r.budget.Used(), Err: err})
		}

		if err := r.budget.Consume(); err != nil {
			return r.fail(&Failure{Kind: core.KindBudget, Iteration: r.budget.Used(), Err: err})
		}

		res, f := r.iterate(ctx, r.budget.Used())
		if f != nil {
			return r.fail(f)
		}

		if res != nil {
			return res, nil
		}
	}
}

// iterate runs one iteration. It returns a result once DONE is reached, a
// failure on FAILED, and neither when the loop should continue.
func (r *run) iterate(ctx context.Context, n int) (*Result, *Failure) {
	l := r.loop
	begin := l.opts.Clock()
	path := []State{StateAwaitingModel}

	record := func(kind string, attrs map[string]any) {
		l.opts.Sink.Emit(logging.Record{
			Time:       l.opts.Clock(),
			Event:      logging.EventIteration,
			ThreadID:   r.thread.ID(),
			Iteration:  n,
			Transition: transition(path),
			ErrorKind:  kind,
			Elapsed:    l.opts.Clock().Sub(begin),
			Attrs:      attrs,
		})
	}

	decision, f := r.decide(ctx, n)
	if f != nil {
		path = append(path, StateFailed)
		record(string(f.Kind), map[string]any{"cause": string(f.Cause)})

		return nil, f
	}

	path = append(path, StateModelResponded)

	if decision.IsFinal() {
		if f := r.commit(ctx, n, core.NewAssistantMessage(decision.Text)); f != nil {
			path = append(path, StateFailed)
			record(string(f.Kind), nil)

			return nil, f
		}

		path = append(path, StateDone)
		record("", nil)

		res := r.result(StateDone, nil)
		res.Text = decision.Text
		r.terminated(res)

		return res, nil
	}

	calls := r.toolCalls(decision.ToolRequests)

	events := make([]core.Event, len(calls))
	for i, c := range calls {
		events[i] = core.NewToolCall(c.ID, c.Name, c.Arguments)
	}

	if f := r.commit(ctx, n, events...); f != nil {
		path = append(path, StateFailed)
		record(string(f.Kind), nil)

		return nil, f
	}

	path = append(path, StateExecutingTools)

	if f := r.execute(ctx, n, calls); f != nil {
		path = append(path, StateFailed)
		record(string(f.Kind), map[string]any{"tool_calls": len(calls)})

		return nil, f
	}

	path = append(path, StateAwaitingModel)
	record("", map[string]any{"tool_calls": len(calls)})

	return nil, nil
}

// resume executes calls left without result by an interrupted run.
func (r *run) resume(ctx context.Context, pending []core.ToolCall) *Failure {
	l := r.loop
	begin := l.opts.Clock()

	l.opts.Logger.Info("resuming pending tool calls", "thread_id", r.thread.ID(), "pending", len(pending))

	f := r.execute(ctx, 0, pending)

	path := []State{StateResuming, StateAwaitingModel}
	kind := ""

	if f != nil {
		path[1] = StateFailed
		kind = string(f.Kind)
	}

	l.opts.Sink.Emit(logging.Record{
		Time:       l.opts.Clock(),
		Event:      logging.EventIteration,
		ThreadID:   r.thread.ID(),
		Transition: transition(path),
		ErrorKind:  kind,
		Elapsed:    l.opts.Clock().Sub(begin),
		Attrs:      map[string]any{"tool_calls": len(pending), "resumed": true},
	})

	return f
}

// decide requests the next decision under the retry and fallback policy.
func (r *run) decide(ctx context.Context, n int) (model.Decision, *Failure) {
	l := r.loop

	instructions, err := l.opts.Instructions.Resolve(r.thread)
	if err != nil {
		return model.Decision{}, &Failure{Kind: core.KindFatalModel, Cause: model.KindMalformedRequest, Iteration: n, Err: fmt.Errorf("resolving instructions: %w", err)}
	}

	req := model.Request{
		ModelID:      l.opts.ModelID,
		Instructions: instructions,
		Prompt:       prompt.ProjectWindow(r.thread, l.opts.WindowSize),
		Tools:        l.registry.Definitions(),
	}

	call := func(ctx context.Context, a retry.Attempt) (model.Decision, error) {
		req := req
		req.ModelID = a.ModelID

		begin := l.opts.Clock()
		d, err := r.complete(ctx, req)
		logging.LogModelCall(l.opts.Logger, a.ModelID, a.Number, l.opts.Clock().Sub(begin), err, "thread_id", r.thread.ID(), "fallback", a.Fallback)

		return d, err
	}

	decision, out, err := retry.Do(ctx, l.opts.Policy, l.opts.ModelID, call, func(o *retry.Options) {
		o.Sleep = l.opts.Sleep
		o.OnRetry = func(failed retry.Attempt, err error, wait time.Duration) {
			l.opts.Logger.Warn("model call failed, retrying", "thread_id", r.thread.ID(), "attempt", failed.Number, "wait", wait, "error", err)
			l.opts.Sink.Emit(logging.Record{
				Time:      l.opts.Clock(),
				Event:     logging.EventModelRetry,
				ThreadID:  r.thread.ID(),
				Iteration: n,
				ErrorKind: string(model.KindOf(err)),
				Attrs: map[string]any{
					"attempt": failed.Number,
					"model":   failed.ModelID,
					"wait_ms": wait.Milliseconds(),
					"error":   err.Error(),
				},
			})
		}
		o.OnFallback = func(next retry.Attempt, lastErr error) {
			l.opts.Logger.Warn("primary model exhausted, trying fallback", "thread_id", r.thread.ID(), "fallback", next.ModelID, "error", lastErr)
			l.opts.Sink.Emit(logging.Record{
				Time:      l.opts.Clock(),
				Event:     logging.EventModelFallback,
				ThreadID:  r.thread.ID(),
				Iteration: n,
				ErrorKind: string(model.KindOf(lastErr)),
				Attrs: map[string]any{
					"attempt": next.Number,
					"model":   next.ModelID,
				},
			})
		}
	})

	r.retries += out.Retries

	if err != nil {
		f := &Failure{Cause: model.KindOf(err), Iteration: n, Err: err}

		switch {
		case ctx.Err() != nil:
			f.Kind = core.KindCancelled
		case l.opts.Policy.IsRetryable(err):
			f.Kind = core.KindTransientModel
		default:
			f.Kind = core.KindFatalModel
		}

		return model.Decision{}, f
	}

	return decision, nil
}

// complete performs one model call under the per-call deadline and rejects
// decisions the loop cannot act on. The deadline holds even for adapters
// that ignore their context.
func (r *run) complete(ctx context.Context, req model.Request) (model.Decision, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	type outcome struct {
		d   model.Decision
		err error
	}

	done := make(chan outcome, 1)

	go func() {
		d, err := r.loop.model.Complete(callCtx, req)
		done <- outcome{d: d, err: err}
	}()

	var o outcome

	select {
	case o = <-done:
	case <-callCtx.Done():
		// The adapter goroutine is abandoned; it owns a buffered channel and exits on its own.
		o = outcome{err: callCtx.Err()}
	}

	d, err := o.d, o.err
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return model.Decision{}, model.NewError(model.KindTimeout, "model call exceeded the per-call deadline", err)
		}

		return model.Decision{}, model.Classify(err)
	}

	if err := d.Validate(); err != nil {
		return model.Decision{}, err
	}

	return d, nil
}

func (r *run) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.loop.opts.PerCallTimeout > 0 {
		return context.WithTimeout(ctx, r.loop.opts.PerCallTimeout)
	}

	return context.WithCancel(ctx)
}

// toolCalls turns requests into calls with ids unique within the thread.
func (r *run) toolCalls(reqs []model.ToolRequest) []core.ToolCall {
	seen := make(map[string]struct{})

	for _, e := range r.thread.Events() {
		if e.Kind == core.EventToolCall && e.Call != nil {
			seen[e.Call.ID] = struct{}{}
		}
	}

	calls := make([]core.ToolCall, len(reqs))

	for i, req := range reqs {
		id := req.ID
		if _, dup := seen[id]; id == "" || dup {
			id = core.NewID()
		}

		seen[id] = struct{}{}
		calls[i] = core.ToolCall{ID: id, Name: req.Name, Arguments: req.Arguments}
	}

	return calls
}

// execute runs calls in order, appending and persisting each result.
func (r *run) execute(ctx context.Context, n int, calls []core.ToolCall) *Failure {
	l := r.loop

	for _, call := range calls {
		callCtx, cancel := r.callContext(ctx)
		begin := l.opts.Clock()
		res := l.registry.Execute(callCtx, r.thread, call)
		elapsed := l.opts.Clock().Sub(begin)
		cancel()

		attrs := map[string]any{
			"tool":     call.Name,
			"call_id":  call.ID,
			"is_error": res.IsError(),
		}

		if spec, err := l.registry.Resolve(call.Name); err == nil {
			attrs["capability"] = string(spec.Capability)
		}

		l.opts.Sink.Emit(logging.Record{
			Time:      l.opts.Clock(),
			Event:     logging.EventToolExecuted,
			ThreadID:  r.thread.ID(),
			Iteration: n,
			ErrorKind: string(res.ErrorKind),
			Elapsed:   elapsed,
			Attrs:     attrs,
		})

		if f := r.commit(ctx, n, core.ResultEvent(res)); f != nil {
			return f
		}

		if err := ctx.Err(); err != nil {
			return &Failure{Kind: core.KindCancelled, Iteration: n, Err: err}
		}
	}

	return nil
}

// commit appends events and saves the thread. The in-memory thread only
// advances once the save succeeded. Saves ignore cancellation of ctx so that
// events already produced are not lost.
func (r *run) commit(ctx context.Context, n int, events ...core.Event) *Failure {
	l := r.loop
	next := r.thread.Append(events...)

	if err := l.store.Save(context.WithoutCancel(ctx), next); err != nil {
		var pe *core.PersistenceError
		if !errors.As(err, &pe) {
			err = &core.PersistenceError{Op: "save", ThreadID: next.ID(), Err: err}
		}

		l.opts.Logger.Error("saving thread failed", "thread_id", next.ID(), "error", err)

		return &Failure{Kind: core.KindPersistence, Iteration: n, Err: err}
	}

	r.thread = next

	l.opts.Sink.Emit(logging.Record{
		Time:      l.opts.Clock(),
		Event:     logging.EventPersisted,
		ThreadID:  next.ID(),
		Iteration: n,
		Attrs:     map[string]any{"events": next.Len(), "appended": len(events)},
	})

	return nil
}

func (r *run) result(state State, f *Failure) *Result {
	return &Result{
		State:      state,
		Thread:     r.thread,
		Iterations: r.budget.Used(),
		Retries:    r.retries,
		Failure:    f,
	}
}

func (r *run) fail(f *Failure) (*Result, error) {
	res := r.result(StateFailed, f)

	r.loop.opts.Logger.Warn("agent loop failed", "thread_id", r.thread.ID(), "kind", string(f.Kind), "iteration", f.Iteration, "error", f.Err)
	r.terminated(res)

	return res, f
}

func (r *run) terminated(res *Result) {
	rec := logging.Record{
		Time:       r.loop.opts.Clock(),
		Event:      logging.EventLoopTerminated,
		ThreadID:   r.thread.ID(),
		Iteration:  res.Iterations,
		Transition: string(res.State),
		Elapsed:    r.loop.opts.Clock().Sub(r.start),
		Attrs:      map[string]any{"retries": res.Retries, "events": res.Thread.Len()},
	}

	if res.Failure != nil {
		rec.ErrorKind = string(res.Failure.Kind)
	}

	r.loop.opts.Sink.Emit(rec)
}

func transition(path []State) string {
	parts := make([]string, len(path))
	for i, s := range path {
		parts[i] = string(s)
	}

	return strings.Join(parts, "->")
}
