//go:build integration
// +build integration

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/concierge/internal/config"
	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/mocks"
	"github.com/Veraticus/concierge/internal/provider"
	signalpkg "github.com/Veraticus/concierge/internal/signal"
)

const testAccount = "+5511900000000"

// harness runs the full component graph against an in-process signal-cli.
type harness struct {
	t           *testing.T
	transport   *signalpkg.MockTransport
	generator   *mocks.MockGenerator
	transcriber *mocks.MockTranscriber
	c           *components
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

func newHarness(t *testing.T, settingsYAML string) *harness {
	t.Helper()

	dir := t.TempDir()
	settingsPath := writeFile(t, dir, "settings.yaml", settingsYAML)

	transport := signalpkg.NewMockTransport()
	transport.SetResult("version", map[string]any{"version": "0.13.4"})
	transport.SetResult("send", map[string]any{"timestamp": 1700000000000})
	transport.SetResult("sendTyping", map[string]any{})

	var dialMu sync.Mutex
	dialed := false
	dial := func(context.Context) (signalpkg.Transport, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		if dialed {
			return nil, errors.New("already dialed")
		}
		dialed = true
		return transport, nil
	}

	cfg := config.Config{
		Signal:   config.SignalConfig{Socket: filepath.Join(dir, "signal.sock"), Account: testAccount},
		Settings: config.SettingsConfig{Path: settingsPath},
		Store: config.StoreConfig{
			Driver:           config.StoreMemory,
			Window:           10,
			MaxConversations: 100,
			IdleTTL:          time.Hour,
		},
		Generation:      config.GenerationConfig{Timeout: 5 * time.Second},
		Transcription:   config.TranscriptionConfig{Language: "pt", Timeout: 5 * time.Second},
		API:             config.APIConfig{Listen: "127.0.0.1:0"},
		MaxConcurrent:   4,
		ShutdownTimeout: 5 * time.Second,
	}

	h := &harness{
		t:           t,
		transport:   transport,
		generator:   &mocks.MockGenerator{Reply: "Olá!"},
		transcriber: &mocks.MockTranscriber{Text: "quero marcar um horário"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := initializeComponents(context.Background(), cfg, logger, dependencies{
		dial:        dial,
		generator:   h.generator,
		transcriber: h.transcriber,
	})
	require.NoError(t, err)
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	startComponents(ctx, c)

	require.Eventually(t, func() bool { return c.channel.Connected(context.Background()) }, 2*time.Second, 10*time.Millisecond)
	_, err = c.registry.Configure(ctx)
	require.NoError(t, err)

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(h.t, shutdown(ctx, h.c))
	})
}

func (h *harness) sentMessages() []string {
	var out []string
	for _, call := range h.transport.GetCalls("send") {
		params, ok := call.(map[string]any)
		if !ok {
			continue
		}
		if msg, ok := params["message"].(string); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (h *harness) waitForSends(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.sentMessages()) >= n }, 5*time.Second, 10*time.Millisecond)
	return h.sentMessages()
}

const autoReplyOn = `
persona_name: Clara
auto_reply_enabled: true
response_delay_seconds: 0
`

func TestIntegration_TextMessageGetsReply(t *testing.T) {
	h := newHarness(t, autoReplyOn)

	h.transport.SimulateEnvelope(&signalpkg.Envelope{
		SourceNumber: "+5511988887777",
		SourceName:   "Maria",
		DataMessage:  &signalpkg.DataMessage{Timestamp: 1, Message: "Oi, tudo bem?"},
	})

	assert.Equal(t, []string{"Olá!"}, h.waitForSends(1))

	history, err := h.c.store.Get(context.Background(), "+5511988887777")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "Oi, tudo bem?", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)

	calls := h.generator.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SystemPrompt, "Clara")
}

func TestIntegration_AudioIsTranscribed(t *testing.T) {
	h := newHarness(t, autoReplyOn)
	h.transport.SetResult("getAttachment", map[string]any{
		"data": base64.StdEncoding.EncodeToString([]byte("OggS")),
	})

	h.transport.SimulateEnvelope(&signalpkg.Envelope{
		SourceNumber: "+5511988887777",
		SourceName:   "Maria",
		DataMessage: &signalpkg.DataMessage{
			Timestamp:   2,
			Attachments: []signalpkg.Attachment{{ContentType: "audio/ogg", ID: "voice-1"}},
		},
	})

	assert.Equal(t, []string{"Olá!"}, h.waitForSends(1))

	transcriptions := h.transcriber.Calls()
	require.Len(t, transcriptions, 1)
	assert.Equal(t, []byte("OggS"), transcriptions[0].Audio)

	calls := h.generator.Calls()
	require.Len(t, calls, 1)
	last := calls[0].Turns[len(calls[0].Turns)-1]
	assert.Equal(t, "quero marcar um horário", last.Content)
}

func TestIntegration_AutoReplyDisabled(t *testing.T) {
	h := newHarness(t, "auto_reply_enabled: false\n")

	h.transport.SimulateEnvelope(&signalpkg.Envelope{
		SourceNumber: "+5511988887777",
		DataMessage:  &signalpkg.DataMessage{Timestamp: 3, Message: "Oi"},
	})

	require.Eventually(t, func() bool {
		return h.c.router.Stats().Suppressed+h.c.router.Stats().FilteredOut == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.sentMessages())
	assert.Empty(t, h.generator.Calls())
}

func TestIntegration_SameContactRepliesInOrder(t *testing.T) {
	h := newHarness(t, autoReplyOn)

	var mu sync.Mutex
	n := 0
	h.generator.GenerateFunc = func(context.Context, provider.GenerateRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 1 {
			return "primeira", nil
		}
		return "segunda", nil
	}

	for i, text := range []string{"um", "dois"} {
		h.transport.SimulateEnvelope(&signalpkg.Envelope{
			SourceNumber: "+5511988887777",
			DataMessage:  &signalpkg.DataMessage{Timestamp: int64(10 + i), Message: text},
		})
	}

	assert.Equal(t, []string{"primeira", "segunda"}, h.waitForSends(2))

	history, err := h.c.store.Get(context.Background(), "+5511988887777")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "um", history[0].Content)
	assert.Equal(t, "dois", history[2].Content)
}
