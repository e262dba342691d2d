package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextloop/agent"
	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/logging"
)

var (
	// ErrThreadBusy is returned when a run is already active on the thread.
	ErrThreadBusy = errors.New("runner: thread already has an active run")

	// ErrNoActiveRun is returned by Cancel for threads without an active run.
	ErrNoActiveRun = errors.New("runner: no active run")
)

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns limits concurrent runs across distinct threads.
	// Zero means unlimited.
	MaxConcurrentRuns int
	Logger            logging.Logger
	Clock             func() time.Time
}

// Runner coordinates loop execution per thread. Public methods are safe for
// concurrent use.
type Runner struct {
	loop   *agent.Loop
	store  core.ThreadStore
	logger logging.Logger
	clock  func() time.Time
	slots  chan struct{}

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner.
func New(loop *agent.Loop, store core.ThreadStore, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Runner{
		loop:       loop,
		store:      store,
		logger:     opts.Logger,
		clock:      opts.Clock,
		activeRuns: make(map[string]context.CancelFunc),
	}

	if opts.MaxConcurrentRuns > 0 {
		r.slots = make(chan struct{}, opts.MaxConcurrentRuns)
	}

	return r
}

// Run appends text as a user message to the thread and drives it to
// completion. An empty threadID starts a new thread with a generated id; an
// unknown id starts a new thread with that id. The returned result carries
// the thread id actually used.
func (r *Runner) Run(ctx context.Context, threadID, text string) (*agent.Result, error) {
	if threadID == "" {
		threadID = core.NewID()
	}

	return r.run(ctx, threadID, func(th core.Thread) (core.Thread, bool) {
		if text == "" {
			return th, false
		}

		return th.Append(core.NewUserMessage(text)), true
	}, true)
}

// Continue drives an existing thread without adding a message, for example
// to finish tool calls left pending by an interrupted run.
func (r *Runner) Continue(ctx context.Context, threadID string) (*agent.Result, error) {
	return r.run(ctx, threadID, func(th core.Thread) (core.Thread, bool) { return th, false }, false)
}

func (r *Runner) run(ctx context.Context, threadID string, prepare func(core.Thread) (core.Thread, bool), create bool) (*agent.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.begin(threadID, cancel); err != nil {
		return nil, err
	}
	defer r.end(threadID)

	if err := r.acquire(ctx); err != nil {
		return nil, &agent.Failure{Kind: core.KindCancelled, Err: err}
	}
	defer r.release()

	th, err := r.hydrate(ctx, threadID, create)
	if err != nil {
		return failed(core.Thread{}, err)
	}

	th, changed := prepare(th)
	if changed {
		if err := r.store.Save(ctx, th); err != nil {
			return failed(th, &core.PersistenceError{Op: "save", ThreadID: threadID, Err: err})
		}
	}

	r.logger.Info("run started", "thread_id", threadID, "events", th.Len())

	res, err := r.loop.Run(ctx, th)
	if err != nil {
		r.logger.Warn("run failed", "thread_id", threadID, "error", err)
		return res, err
	}

	r.logger.Info("run finished", "thread_id", threadID, "iterations", res.Iterations, "retries", res.Retries)

	return res, nil
}

// Hydrate loads a thread, or returns a fresh one with that id when it is
// not stored yet. Nothing is persisted.
func (r *Runner) Hydrate(ctx context.Context, threadID string) (core.Thread, error) {
	return r.hydrate(ctx, threadID, true)
}

func (r *Runner) hydrate(ctx context.Context, threadID string, create bool) (core.Thread, error) {
	th, err := r.store.Load(ctx, threadID)
	if err == nil {
		return th, nil
	}

	if errors.Is(err, core.ErrThreadNotFound) {
		if !create {
			return core.Thread{}, err
		}

		return core.NewThread(threadID, r.clock()), nil
	}

	var pe *core.PersistenceError
	if errors.As(err, &pe) {
		return core.Thread{}, err
	}

	return core.Thread{}, &core.PersistenceError{Op: "load", ThreadID: threadID, Err: err}
}

// Cancel cancels the active run on threadID.
func (r *Runner) Cancel(threadID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[threadID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w on thread %s", ErrNoActiveRun, threadID)
	}

	cancel()

	return nil
}

// Active reports whether threadID has a run in progress.
func (r *Runner) Active(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.activeRuns[threadID]

	return ok
}

// Delete removes a thread from the store. Threads with an active run cannot
// be deleted.
func (r *Runner) Delete(ctx context.Context, threadID string) error {
	r.mu.Lock()
	_, busy := r.activeRuns[threadID]
	r.mu.Unlock()

	if busy {
		return ErrThreadBusy
	}

	return r.store.Delete(ctx, threadID)
}

func (r *Runner) begin(threadID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.activeRuns[threadID]; busy {
		return fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}

	r.activeRuns[threadID] = cancel

	return nil
}

func (r *Runner) end(threadID string) {
	r.mu.Lock()
	delete(r.activeRuns, threadID)
	r.mu.Unlock()
}

func (r *Runner) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}

	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) release() {
	if r.slots != nil {
		<-r.slots
	}
}

// failed reports a failure that happened before the loop started.
func failed(th core.Thread, err error) (*agent.Result, error) {
	f := &agent.Failure{Kind: core.KindPersistence, Err: err}

	return &agent.Result{State: agent.StateFailed, Thread: th, Failure: f}, f
}
