package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/hupe1980/contextloop"
	"github.com/hupe1980/contextloop/config"
	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/memory"
	"github.com/hupe1980/contextloop/memory/sqlite"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/model/anthropic"
	"github.com/hupe1980/contextloop/model/langchain"
	"github.com/hupe1980/contextloop/model/openai"
	"github.com/hupe1980/contextloop/prompt"
	"github.com/hupe1980/contextloop/tool"
	"github.com/hupe1980/contextloop/tool/builtin"
)

// DefaultOllamaURL is the OpenAI compatible endpoint of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434/v1"

// app lazily builds the services a command needs and releases them on exit.
type app struct {
	ctx  context.Context
	out  io.Writer
	opts *Options

	cfg     *config.Config
	logger  *logging.ContextLogger
	store   core.ThreadStore
	sqlite  *sqlite.Store
	loop    *contextloop.ContextLoop
	closers []func() error
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	path := config.ResolvePath(a.opts.Config)
	if path == "" {
		if _, err := os.Stat(config.DefaultFileName); err == nil {
			path = config.DefaultFileName
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if a.opts.DB != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.Path = a.opts.DB
	}

	if a.opts.NoMemory {
		cfg.Store.Driver = config.DriverMemory
	}

	if a.opts.Dev {
		cfg.Model.Provider = config.ProviderScripted
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.LoggerConfig()).WithComponent("cli")

	return cfg, nil
}

func (a *app) openStore() (core.ThreadStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.store = memory.NewInMemoryStore()
	default:
		s, err := sqlite.Open(a.ctx, cfg.Store.Path, func(o *sqlite.Options) {
			o.Logger = a.logger.WithComponent("store")
		})
		if err != nil {
			return nil, fmt.Errorf("opening thread store %s: %w", cfg.Store.Path, err)
		}

		a.sqlite = s
		a.store = s
		a.closers = append(a.closers, s.Close)
	}

	return a.store, nil
}

func (a *app) openLoop() (*contextloop.ContextLoop, error) {
	if a.loop != nil {
		return a.loop, nil
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	cfg := a.cfg

	m, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	var sink logging.MultiSink

	if cfg.Log.EventsFile != "" {
		s, err := logging.OpenJSONLSink(cfg.Log.EventsFile, a.logger)
		if err != nil {
			return nil, err
		}

		sink = append(sink, s)
		a.closers = append(a.closers, s.Close)
	}

	if a.opts.Verbose {
		sink = append(sink, logging.NewSlogSink(a.logger.WithComponent("loop").Slog()))
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = a.logger.WithComponent("tools") })
	if err := builtin.Register(registry); err != nil {
		return nil, err
	}

	a.loop = contextloop.New(m, func(o *contextloop.Options) {
		o.Policy = cfg.RetryPolicy()
		o.MaxIterations = cfg.MaxIterations
		o.PerCallTimeout = cfg.PerCallTimeout()
		o.ModelID = cfg.Model.ID
		o.Instructions = cfg.Instructions
		o.WindowSize = cfg.WindowSize
		o.Store = store
		o.Registry = registry
		o.Sink = sink
		o.Logger = a.logger.WithComponent("loop")
	})

	return a.loop, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Closing resource failed", "error", err)
		}
	}

	a.closers = nil
}

// newModel builds the adapter named by model.provider.
func newModel(cfg *config.Config) (model.Model, error) {
	mc := cfg.Model

	switch mc.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = mc.ID
			o.Temperature = mc.Temperature
			o.MaxCompletionTokens = int64(mc.MaxTokens)
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(mc.ID)
			o.Temperature = mc.Temperature
			o.MaxTokens = int64(mc.MaxTokens)
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
		}), nil
	case config.ProviderOllama:
		baseURL := mc.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}

		llm, err := lcopenai.New(
			lcopenai.WithToken("ollama"),
			lcopenai.WithBaseURL(baseURL),
			lcopenai.WithModel(mc.ID),
		)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}

		return langchain.NewModel(llm, func(o *langchain.Options) {
			o.Name = mc.ID
			o.Provider = config.ProviderOllama
			o.Temperature = mc.Temperature
			o.MaxTokens = mc.MaxTokens
		}), nil
	case config.ProviderScripted:
		return devModel(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", mc.Provider)
	}
}

// devModel is an offline model for trying the CLI without credentials.
// Arithmetic input is routed through the calculate tool, anything else is
// echoed back.
func devModel() model.Model {
	return model.Func(func(_ context.Context, req model.Request) (model.Decision, error) {
		blocks := req.Prompt.Blocks
		if len(blocks) == 0 {
			return model.Decision{}, model.NewError(model.KindMalformedRequest, "empty prompt", errors.New("no messages"))
		}

		last := blocks[len(blocks)-1]

		switch last.Role {
		case prompt.RoleTool:
			return model.FinalText(fmt.Sprintf("%s returned %s", last.ToolResult.Name, last.ToolResult.Content())), nil
		case prompt.RoleUser:
			expr := strings.TrimSpace(last.Text)
			if _, err := builtin.Evaluate(expr); err == nil {
				return model.Requests(model.ToolRequest{Name: "calculate", Arguments: map[string]any{"expression": expr}}), nil
			}

			return model.FinalText("echo: " + last.Text), nil
		default:
			return model.FinalText(last.Text), nil
		}
	})
}
