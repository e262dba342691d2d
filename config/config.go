// Package config loads contextloop settings from a YAML file, environment
// variables and defaults, in increasing order of precedence for env.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/model/openai"
	"github.com/hupe1980/contextloop/retry"
)

// Environment variables consulted by Load.
const (
	EnvConfig       = "CONTEXTLOOP_CONFIG"
	EnvModel        = "CONTEXTLOOP_MODEL"
	EnvProvider     = "CONTEXTLOOP_PROVIDER"
	EnvDB           = "CONTEXTLOOP_DB"
	EnvLogLevel     = "CONTEXTLOOP_LOG_LEVEL"
	EnvOpenRouter   = "OPENROUTER_API_KEY"
	EnvOpenAI       = "OPENAI_API_KEY"
	EnvAnthropic    = "ANTHROPIC_API_KEY"
	DefaultFileName = "contextloop.yaml"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderScripted  = "scripted"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// DefaultInstructions is the system prompt used when none is configured.
const DefaultInstructions = "You are a helpful, didactic and organized open-source LLM assistant. " +
	"Use the available tools when they help answer the user."

// Config is the complete runtime configuration.
type Config struct {
	MaxAttempts         int      `yaml:"max_attempts"`
	BackoffBaseMS       int      `yaml:"backoff_base_ms"`
	BackoffCapMS        int      `yaml:"backoff_cap_ms"`
	RetryableErrorKinds []string `yaml:"retryable_error_kinds"`
	FallbackModelID     string   `yaml:"fallback_model_id"`
	MaxIterations       int      `yaml:"max_iterations"`
	PerCallTimeoutMS    int      `yaml:"per_call_timeout_ms"`
	// WindowSize limits the events projected into a prompt; zero disables.
	WindowSize   int    `yaml:"window_size"`
	Instructions string `yaml:"instructions"`

	Model ModelConfig `yaml:"model"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	ID          string  `yaml:"id"`
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StoreConfig selects the thread store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LogConfig configures diagnostics and the event log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// EventsFile receives loop records as JSON lines; empty disables it.
	EventsFile string `yaml:"events_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	kinds := make([]string, len(model.DefaultRetryableKinds))
	for i, k := range model.DefaultRetryableKinds {
		kinds[i] = string(k)
	}

	return &Config{
		MaxAttempts:         3,
		BackoffBaseMS:       1000,
		BackoffCapMS:        8000,
		RetryableErrorKinds: kinds,
		MaxIterations:       10,
		PerCallTimeoutMS:    60000,
		Instructions:        DefaultInstructions,
		Model: ModelConfig{
			Provider:    ProviderOpenAI,
			ID:          "mistralai/mistral-7b-instruct",
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Store: StoreConfig{Driver: DriverSQLite, Path: "contextloop.db"},
		Log:   LogConfig{Level: "info", Format: "console", EventsFile: "agent.log"},
	}
}

// ResolvePath returns explicit when set, otherwise the path named by
// CONTEXTLOOP_CONFIG, otherwise the empty string.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	return os.Getenv(EnvConfig)
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	if err := cfg.decode(r); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Model.Provider = v
	}

	if v := os.Getenv(EnvModel); v != "" {
		c.Model.ID = v
	}

	if v := os.Getenv(EnvDB); v != "" {
		c.Store.Path = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}

	if c.Model.APIKey != "" {
		return
	}

	switch c.Model.Provider {
	case ProviderOpenAI:
		if v := os.Getenv(EnvOpenRouter); v != "" {
			c.Model.APIKey = v
			if c.Model.BaseURL == "" {
				c.Model.BaseURL = openai.OpenRouterBaseURL
			}
		} else if v := os.Getenv(EnvOpenAI); v != "" {
			c.Model.APIKey = v
		}
	case ProviderAnthropic:
		c.Model.APIKey = os.Getenv(EnvAnthropic)
	}
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}

	for _, k := range c.RetryableErrorKinds {
		if !slices.Contains(knownKinds, model.ErrorKind(k)) {
			errs = append(errs, fmt.Errorf("retryable_error_kinds: unknown kind %q", k))
		}
	}

	if c.MaxIterations < 0 {
		errs = append(errs, errors.New("max_iterations must not be negative"))
	}

	if c.PerCallTimeoutMS < 0 {
		errs = append(errs, errors.New("per_call_timeout_ms must not be negative"))
	}

	if c.WindowSize < 0 {
		errs = append(errs, errors.New("window_size must not be negative"))
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderScripted:
	default:
		errs = append(errs, fmt.Errorf("model.provider: unsupported provider %q", c.Model.Provider))
	}

	if c.Model.ID == "" && c.Model.Provider != ProviderScripted {
		errs = append(errs, errors.New("model.id is required"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Log.Format {
	case "console", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}

	return nil
}

var knownKinds = []model.ErrorKind{
	model.KindTimeout,
	model.KindRateLimit,
	model.KindTransport,
	model.KindMalformedRequest,
	model.KindAuthentication,
	model.KindQuotaExhausted,
	model.KindMalformedResponse,
	model.KindUnknown,
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() retry.Policy {
	kinds := make([]model.ErrorKind, len(c.RetryableErrorKinds))
	for i, k := range c.RetryableErrorKinds {
		kinds[i] = model.ErrorKind(strings.TrimSpace(k))
	}

	return retry.Policy{
		MaxAttempts:     c.MaxAttempts,
		BackoffBase:     time.Duration(c.BackoffBaseMS) * time.Millisecond,
		BackoffCap:      time.Duration(c.BackoffCapMS) * time.Millisecond,
		Retryable:       kinds,
		FallbackModelID: c.FallbackModelID,
	}
}

// PerCallTimeout returns per_call_timeout_ms as a duration.
func (c *Config) PerCallTimeout() time.Duration {
	return time.Duration(c.PerCallTimeoutMS) * time.Millisecond
}

// LoggerConfig converts the log section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()

	if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = lvl
	}

	lc.Format = c.Log.Format

	return lc
}

// Marshal renders the configuration as YAML without the API key.
func (c *Config) Marshal() ([]byte, error) {
	cp := *c
	cp.Model.APIKey = ""

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(&cp); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Save writes the configuration to path. Secrets are never written.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}
