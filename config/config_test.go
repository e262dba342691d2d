package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/logging"
	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/model/openai"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, k := range []string{EnvConfig, EnvModel, EnvProvider, EnvDB, EnvLogLevel, EnvOpenRouter, EnvOpenAI, EnvAnthropic} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BackoffBase)
	assert.Equal(t, 8*time.Second, p.BackoffCap)
	assert.Equal(t, model.DefaultRetryableKinds, p.Retryable)
	assert.Equal(t, time.Minute, cfg.PerCallTimeout())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "contextloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_attempts: 5
backoff_base_ms: 50
backoff_cap_ms: 400
retryable_error_kinds: [timeout, rate_limit]
fallback_model_id: openai/gpt-4o-mini
max_iterations: 4
per_call_timeout_ms: 2500
window_size: 30
model:
  provider: anthropic
  id: claude-3-5-sonnet-latest
store:
  driver: memory
`), 0o600))

	t.Setenv(EnvModel, "claude-3-opus-latest")
	t.Setenv(EnvAnthropic, "sk-ant")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 30, cfg.WindowSize)
	assert.Equal(t, 2500*time.Millisecond, cfg.PerCallTimeout())
	assert.Equal(t, "openai/gpt-4o-mini", cfg.RetryPolicy().FallbackModelID)
	assert.Equal(t, []model.ErrorKind{model.KindTimeout, model.KindRateLimit}, cfg.RetryPolicy().Retryable)
	assert.Equal(t, 400*time.Millisecond, cfg.RetryPolicy().BackoffCap)

	assert.Equal(t, "claude-3-opus-latest", cfg.Model.ID)
	assert.Equal(t, "sk-ant", cfg.Model.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, logging.LogLevelDebug, cfg.LoggerConfig().Level)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	// untouched keys keep their defaults
	assert.Equal(t, DefaultInstructions, cfg.Instructions)
	assert.Equal(t, "agent.log", cfg.Log.EventsFile)
}

func TestLoad_OpenRouterKeySetsBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenRouter, "sk-or")
	t.Setenv(EnvOpenAI, "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or", cfg.Model.APIKey)
	assert.Equal(t, openai.OpenRouterBaseURL, cfg.Model.BaseURL)
}

func TestLoad_OpenAIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenAI, "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Model.APIKey)
	assert.Empty(t, cfg.Model.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_atempts: 3\n"), 0o600))

	_, err = Load(path)
	assert.ErrorContains(t, err, "max_atempts")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.MaxAttempts = 0
	cfg.RetryableErrorKinds = []string{"timeout", "solar_flare"}
	cfg.Model.Provider = "carrier-pigeon"
	cfg.Store.Driver = "floppy"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"max attempts", "solar_flare", "carrier-pigeon", "floppy", "xml"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestParse_EmptyInputKeepsDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSave_RoundTripWithoutSecrets(t *testing.T) {
	clearEnv(t)

	cfg := Default()
	cfg.Model.APIKey = "secret"
	cfg.FallbackModelID = "backup"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Contains(t, string(data), "max_attempts: 3")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "backup", loaded.FallbackModelID)
	assert.Equal(t, "secret", cfg.Model.APIKey)
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, "", ResolvePath(""))

	t.Setenv(EnvConfig, "/etc/contextloop.yaml")
	assert.Equal(t, "/etc/contextloop.yaml", ResolvePath(""))
	assert.Equal(t, "x.yaml", ResolvePath("x.yaml"))
}
