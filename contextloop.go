// Package contextloop provides a high-level façade over the agent loop, the
// tool registry and the thread store. Most applications interact with this
// package by:
//  1. Creating a ContextLoop via New() with a model (optionally overriding
//     the default in-memory store and policy)
//  2. Registering tools
//  3. Sending user messages to threads with Ask
//
// Threads are immutable event logs persisted after every step, so a thread
// can be continued across processes by id. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// store (memory/sqlite) and a structured logger.
package contextloop

import (
	"context"
	"time"

	"github.com/hupe1980/contextloop/agent"
	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/memory"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
	"github.com/hupe1980/contextloop/retry"
	"github.com/hupe1980/contextloop/runner"
	"github.com/hupe1980/contextloop/tool"
)

// Options configures the ContextLoop instance.
type Options struct {
	// Policy governs retries and the fallback model.
	Policy retry.Policy
	// MaxIterations bounds model decisions per Ask. Zero means unlimited.
	MaxIterations int
	// PerCallTimeout bounds each model call and tool invocation.
	PerCallTimeout time.Duration
	// ModelID selects the primary model; empty uses the adapter default.
	ModelID      string
	Instructions string
	// WindowSize limits the events projected into a prompt.
	WindowSize int

	// MaxConcurrentRuns limits runs across distinct threads. Zero means unlimited.
	MaxConcurrentRuns int

	// Store defaults to an in-memory store.
	Store core.ThreadStore
	// Registry defaults to an empty registry.
	Registry *tool.Registry
	Sink     logging.Sink
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ContextLoop is the high-level façade aggregating loop, runner and store.
type ContextLoop struct {
	opts   Options
	loop   *agent.Loop
	runner *runner.Runner
}

// New creates a ContextLoop driving m. Any unset service is initialized with
// an in-memory or no-op implementation.
func New(m model.Model, optFns ...func(o *Options)) *ContextLoop {
	opts := Options{
		Policy:         retry.DefaultPolicy(),
		MaxIterations:  10,
		PerCallTimeout: 60 * time.Second,
		Store:          memory.NewInMemoryStore(),
		Sink:           logging.NopSink{},
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	}

	loop := agent.NewLoop(m, opts.Registry, opts.Store, func(o *agent.LoopOptions) {
		o.Policy = opts.Policy
		o.MaxIterations = opts.MaxIterations
		o.PerCallTimeout = opts.PerCallTimeout
		o.ModelID = opts.ModelID
		o.Instructions = agent.NewInstructionFromText(opts.Instructions)
		o.WindowSize = opts.WindowSize
		o.Sink = opts.Sink
		o.Logger = opts.Logger
	})

	r := runner.New(loop, opts.Store, func(o *runner.Options) {
		o.MaxConcurrentRuns = opts.MaxConcurrentRuns
		o.Logger = opts.Logger
	})

	return &ContextLoop{opts: opts, loop: loop, runner: r}
}

// RegisterTool adds a tool to the registry.
func (c *ContextLoop) RegisterTool(t tool.Tool) error { return c.opts.Registry.Register(t) }

// Registry returns the tool registry.
func (c *ContextLoop) Registry() *tool.Registry { return c.opts.Registry }

// Store returns the thread store.
func (c *ContextLoop) Store() core.ThreadStore { return c.opts.Store }

// Ask appends text to the thread and runs the loop to completion. An empty
// threadID starts a new thread; its id is available from the result.
func (c *ContextLoop) Ask(ctx context.Context, threadID, text string) (*agent.Result, error) {
	return c.runner.Run(ctx, threadID, text)
}

// Continue resumes a stored thread without adding a message.
func (c *ContextLoop) Continue(ctx context.Context, threadID string) (*agent.Result, error) {
	return c.runner.Continue(ctx, threadID)
}

// Cancel stops the active run on a thread.
func (c *ContextLoop) Cancel(threadID string) error { return c.runner.Cancel(threadID) }

// Thread loads a stored thread.
func (c *ContextLoop) Thread(ctx context.Context, id string) (core.Thread, error) {
	return c.opts.Store.Load(ctx, id)
}

// Threads lists stored threads, most recently updated first.
func (c *ContextLoop) Threads(ctx context.Context) ([]core.ThreadInfo, error) {
	return c.opts.Store.List(ctx)
}

// Delete removes a thread. Threads with an active run cannot be deleted.
func (c *ContextLoop) Delete(ctx context.Context, id string) error {
	return c.runner.Delete(ctx, id)
}

// Prompt returns the projection the model would see for a stored thread.
func (c *ContextLoop) Prompt(ctx context.Context, id string) (prompt.Prompt, error) {
	th, err := c.opts.Store.Load(ctx, id)
	if err != nil {
		return prompt.Prompt{}, err
	}

	return prompt.ProjectWindow(th, c.opts.WindowSize), nil
}
