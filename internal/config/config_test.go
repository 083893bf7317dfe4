package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("signal.account", "+5511000000000")
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.Window)
	assert.Equal(t, ProviderAnthropic, cfg.Generation.Provider)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "pt", cfg.Transcription.Language)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.True(t, cfg.ConfigureOnStart)
	assert.Equal(t, "+5511000000000", cfg.Signal.Account)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
signal:
  account: "+5511999990000"
  socket: /tmp/signal.sock
store:
  driver: SQLite
  path: /tmp/concierge.db
  idle_ttl: 72h
generation:
  provider: gemini
  model: gemini-2.5-flash
  timeout: 15s
router:
  max_concurrent: 2
`), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "+5511999990000", cfg.Signal.Account)
	assert.Equal(t, "/tmp/signal.sock", cfg.Signal.Socket)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Store.IdleTTL)
	assert.Equal(t, ProviderGemini, cfg.Generation.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Generation.Model)
	assert.Equal(t, 15*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 2, cfg.MaxConcurrent)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CONCIERGE_STORE_WINDOW", "6")
	t.Setenv("ANTHROPIC_API_KEY", "sk-vendor")
	t.Setenv("CONCIERGE_OPENAI_API_KEY", "sk-openai")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Store.Window)
	assert.Equal(t, "sk-vendor", cfg.AnthropicAPIKey)
	assert.Equal(t, "sk-openai", cfg.OpenAIAPIKey)
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-vendor")
	t.Setenv("CONCIERGE_ANTHROPIC_API_KEY", "sk-prefixed")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.AnthropicAPIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{name: "missing account", key: "signal.account", value: "", wantErr: "signal.account"},
		{name: "missing socket", key: "signal.socket", value: " ", wantErr: "signal.socket"},
		{name: "unknown driver", key: "store.driver", value: "redis", wantErr: "store.driver"},
		{name: "zero window", key: "store.window", value: 0, wantErr: "store.window"},
		{name: "unknown provider", key: "generation.provider", value: "llama", wantErr: "generation.provider"},
		{name: "zero concurrency", key: "router.max_concurrent", value: 0, wantErr: "router.max_concurrent"},
		{name: "bad level", key: "logging.level", value: "loud", wantErr: "logging.level"},
		{name: "bad format", key: "logging.format", value: "xml", wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "conversation", "+1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"conversation":"+1"`)
}
