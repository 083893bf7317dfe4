package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/concierge/internal/channel"
	"github.com/Veraticus/concierge/internal/config"
	"github.com/Veraticus/concierge/internal/mocks"
	"github.com/Veraticus/concierge/internal/provider/claude"
	"github.com/Veraticus/concierge/internal/provider/gemini"
	"github.com/Veraticus/concierge/internal/registry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	settingsPath := writeFile(t, dir, "settings.yaml", `
persona_name: Clara
auto_reply_enabled: true
special_contacts:
  mãe: "Seja carinhosa."
`)
	configPath := writeFile(t, dir, "concierge.yaml", `
signal:
  account: "+5511999990000"
settings:
  path: `+settingsPath+`
`)

	var stdout, stderr bytes.Buffer
	code := runMain([]string{"--config", configPath, "check"}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "+5511999990000")
	assert.Contains(t, out, "Clara")
	assert.Contains(t, out, "auto reply:   true")
	assert.Contains(t, out, "overrides:    1")
}

func TestCheckCommand_MissingSettings(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "concierge.yaml", `
signal:
  account: "+5511999990000"
settings:
  path: `+filepath.Join(dir, "absent.yaml")+`
`)

	code := runMain([]string{"--config", configPath, "check"}, io.Discard, io.Discard)
	assert.Equal(t, 1, code)
}

func TestRunMain_BadConfigFile(t *testing.T) {
	code := runMain([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "check"}, io.Discard, io.Discard)
	assert.Equal(t, 1, code)
}

func TestRunMain_UnknownCommand(t *testing.T) {
	code := runMain([]string{"launch"}, io.Discard, io.Discard)
	assert.Equal(t, 1, code)
}

func TestBuildGenerator(t *testing.T) {
	ctx := context.Background()

	gen, err := buildGenerator(ctx, config.Config{Generation: config.GenerationConfig{Provider: config.ProviderAnthropic}})
	require.NoError(t, err)
	assert.IsType(t, &claude.Client{}, gen)

	gen, err = buildGenerator(ctx, config.Config{Generation: config.GenerationConfig{Provider: config.ProviderGemini}})
	require.NoError(t, err)
	assert.IsType(t, &gemini.Provider{}, gen)

	_, err = buildGenerator(ctx, config.Config{Generation: config.GenerationConfig{Provider: "llama"}})
	assert.Error(t, err)
}

func TestBuildStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c := &components{cfg: config.Config{Store: config.StoreConfig{
			Driver:           config.StoreMemory,
			Window:           10,
			MaxConversations: 100,
			IdleTTL:          time.Hour,
		}}}
		require.NoError(t, c.buildStore())

		assert.NotNil(t, c.cleanup)
		stats, err := c.storeStats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Conversations)
		assert.NoError(t, c.closeStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		c := &components{cfg: config.Config{Store: config.StoreConfig{
			Driver: config.StoreSQLite,
			Path:   filepath.Join(t.TempDir(), "concierge.db"),
			Window: 10,
		}}}
		require.NoError(t, c.buildStore())

		assert.Nil(t, c.cleanup)
		stats, err := c.storeStats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Turns)
		assert.NoError(t, c.closeStore())
	})
}

func TestConfigureOnStart_WaitsForConnection(t *testing.T) {
	ch := mocks.NewMockChannel()
	ch.SetConnected(false)
	reg := registry.New(ch, func(context.Context, channel.InboundEvent) {})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		ch.SetConnected(true)
	}()

	configureOnStart(ctx, reg, logger, 5*time.Millisecond)

	assert.True(t, reg.IsConfigured())
	assert.Equal(t, 1, ch.Registrations())
}

func TestConfigureOnStart_StopsOnCancel(t *testing.T) {
	ch := mocks.NewMockChannel()
	ch.SetConnected(false)
	reg := registry.New(ch, func(context.Context, channel.InboundEvent) {})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		configureOnStart(ctx, reg, logger, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("configureOnStart did not return after cancel")
	}
	assert.False(t, reg.IsConfigured())
	assert.Zero(t, ch.Registrations())
}
