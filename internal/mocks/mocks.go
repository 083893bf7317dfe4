// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Veraticus/concierge/internal/channel"
	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/provider"
	"github.com/Veraticus/concierge/internal/settings"
)

// Compile-time checks to ensure mocks implement their interfaces.
var (
	_ channel.Channel      = (*MockChannel)(nil)
	_ provider.Generator   = (*MockGenerator)(nil)
	_ provider.Transcriber = (*MockTranscriber)(nil)
	_ settings.Provider    = (*MockSettings)(nil)
)

// ChannelCall records an outbound channel operation.
type ChannelCall struct {
	Op              string // "send", "typing", "clear"
	ConversationKey string
	Text            string
}

// MockChannel is a test implementation of channel.Channel.
type MockChannel struct {
	media        map[string][]byte
	names        map[string]string
	handler      channel.Handler
	SendErr      error
	TypingErr    error
	ClearErr     error
	DownloadErr  error
	subscription *channel.Subscription
	calls        []ChannelCall
	registers    int
	mu           sync.Mutex
	disconnected bool
	noDownload   bool
}

// NewMockChannel creates a connected mock channel.
func NewMockChannel() *MockChannel {
	return &MockChannel{
		media: make(map[string][]byte),
		names: make(map[string]string),
	}
}

// SetConnected toggles the connection status.
func (m *MockChannel) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = !connected
}

// SetDownloadable toggles whether media can be downloaded.
func (m *MockChannel) SetDownloadable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noDownload = !ok
}

// SetMedia registers attachment bytes for a media reference.
func (m *MockChannel) SetMedia(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[ref] = data
}

// SetDisplayName registers a contact name.
func (m *MockChannel) SetDisplayName(key, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[key] = name
}

// Connected implements channel.Channel.
func (m *MockChannel) Connected(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

// Register implements channel.Channel.
func (m *MockChannel) Register(handler channel.Handler) (channel.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscription != nil {
		return channel.Subscription{}, channel.ErrHandlerRegistered
	}
	sub := channel.Subscription{ID: uuid.NewString()}
	m.subscription = &sub
	m.handler = handler
	m.registers++
	return sub, nil
}

// Unregister implements channel.Channel.
func (m *MockChannel) Unregister(sub channel.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscription == nil || m.subscription.ID != sub.ID {
		return channel.ErrUnknownSubscription
	}
	m.subscription = nil
	m.handler = nil
	return nil
}

// Active implements channel.Channel.
func (m *MockChannel) Active(sub channel.Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscription != nil && m.subscription.ID == sub.ID
}

// DropSubscription forgets the active handler without an Unregister call,
// as a channel does after a reconnect.
func (m *MockChannel) DropSubscription() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscription = nil
	m.handler = nil
}

// Deliver passes ev to the registered handler. It returns false when no
// handler is registered.
func (m *MockChannel) Deliver(ctx context.Context, ev channel.InboundEvent) bool {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(ctx, ev)
	return true
}

// Registrations returns how many times Register succeeded.
func (m *MockChannel) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers
}

// SendText implements channel.Sender.
func (m *MockChannel) SendText(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ChannelCall{Op: "send", ConversationKey: key, Text: text})
	return m.SendErr
}

// SetTyping implements channel.Sender.
func (m *MockChannel) SetTyping(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ChannelCall{Op: "typing", ConversationKey: key})
	return m.TypingErr
}

// ClearTyping implements channel.Sender.
func (m *MockChannel) ClearTyping(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ChannelCall{Op: "clear", ConversationKey: key})
	return m.ClearErr
}

// CanDownload implements channel.MediaSource.
func (m *MockChannel) CanDownload(ev channel.InboundEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noDownload {
		return false
	}
	if len(ev.AudioPayload) > 0 {
		return true
	}
	_, ok := m.media[ev.MediaRef]
	return ok
}

// DownloadMedia implements channel.MediaSource.
func (m *MockChannel) DownloadMedia(_ context.Context, ev channel.InboundEvent) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	if len(ev.AudioPayload) > 0 {
		return ev.AudioPayload, nil
	}
	data, ok := m.media[ev.MediaRef]
	if !ok {
		return nil, fmt.Errorf("media %q not found", ev.MediaRef)
	}
	return data, nil
}

// DisplayName implements channel.Channel.
func (m *MockChannel) DisplayName(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[key]
	if !ok {
		return "", errors.New("contact not found")
	}
	return name, nil
}

// Calls returns a copy of all outbound calls.
func (m *MockChannel) Calls() []ChannelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Sent returns the texts sent to key, in order.
func (m *MockChannel) Sent(key string) []string {
	var sent []string
	for _, call := range m.Calls() {
		if call.Op == "send" && call.ConversationKey == key {
			sent = append(sent, call.Text)
		}
	}
	return sent
}

// SendCount returns the number of send calls across all conversations.
func (m *MockChannel) SendCount() int {
	count := 0
	for _, call := range m.Calls() {
		if call.Op == "send" {
			count++
		}
	}
	return count
}

// GenerateCall records a call to the generator.
type GenerateCall struct {
	SystemPrompt string
	Turns        conversation.History
}

// MockGenerator is a test implementation of provider.Generator.
type MockGenerator struct {
	Err   error
	calls []GenerateCall
	mu    sync.Mutex

	// Reply is returned when GenerateFunc is nil.
	Reply string

	// GenerateFunc allows tests to provide custom behavior.
	GenerateFunc func(ctx context.Context, req provider.GenerateRequest) (string, error)
}

// Generate implements provider.Generator.
func (m *MockGenerator) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{
		SystemPrompt: req.SystemPrompt,
		Turns:        append(conversation.History(nil), req.Turns...),
	})
	fn, reply, err := m.GenerateFunc, m.Reply, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockGenerator) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockTranscriber is a test implementation of provider.Transcriber.
type MockTranscriber struct {
	Err   error
	Text  string
	calls []provider.TranscribeRequest
	mu    sync.Mutex
}

// Transcribe implements provider.Transcriber.
func (m *MockTranscriber) Transcribe(_ context.Context, req provider.TranscribeRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockTranscriber) Calls() []provider.TranscribeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.TranscribeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSettings is a settings.Provider whose value tests can swap.
type MockSettings struct {
	settings settings.BehaviorSettings
	loads    int
	mu       sync.Mutex
}

// NewMockSettings creates a provider returning s.
func NewMockSettings(s settings.BehaviorSettings) *MockSettings {
	return &MockSettings{settings: s}
}

// Set replaces the returned settings.
func (m *MockSettings) Set(s settings.BehaviorSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// Load implements settings.Provider.
func (m *MockSettings) Load(_ context.Context) settings.BehaviorSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.settings
}

// Loads returns how many times Load was called.
func (m *MockSettings) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}
