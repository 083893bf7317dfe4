package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTypingIndicatorInterval is the default interval at which typing indicators are refreshed.
	DefaultTypingIndicatorInterval = 10 * time.Second
)

// TypingIndicatorManager keeps typing indicators alive for multiple
// conversations. Channels expire the indicator on their own schedule, so an
// active indicator is re-asserted periodically.
type TypingIndicatorManager interface {
	// Start begins sending typing indicators for a conversation. Starting an
	// already active conversation is a no-op.
	Start(ctx context.Context, conversationKey string) error

	// Stop stops refreshing the indicator for a conversation.
	Stop(conversationKey string)

	// StopAll stops all active typing indicators.
	StopAll()
}

type typingIndicator struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type typingManager struct {
	sender     Sender
	logger     *slog.Logger
	indicators map[string]*typingIndicator
	interval   time.Duration
	mu         sync.Mutex
}

// NewTypingIndicatorManager creates a new typing indicator manager with default interval.
func NewTypingIndicatorManager(sender Sender) TypingIndicatorManager {
	return NewTypingIndicatorManagerWithInterval(sender, DefaultTypingIndicatorInterval)
}

// NewTypingIndicatorManagerWithInterval creates a new typing indicator manager with custom interval.
func NewTypingIndicatorManagerWithInterval(sender Sender, interval time.Duration) TypingIndicatorManager {
	if interval <= 0 {
		interval = DefaultTypingIndicatorInterval
	}
	return &typingManager{
		sender:     sender,
		logger:     slog.Default(),
		indicators: make(map[string]*typingIndicator),
		interval:   interval,
	}
}

func (m *typingManager) Start(ctx context.Context, conversationKey string) error {
	if conversationKey == "" {
		return fmt.Errorf("conversation key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.indicators[conversationKey]; exists {
		return nil
	}

	indicatorCtx, cancel := context.WithCancel(ctx)
	indicator := &typingIndicator{cancel: cancel, done: make(chan struct{})}
	m.indicators[conversationKey] = indicator

	go m.runIndicator(indicatorCtx, conversationKey, indicator.done)

	return nil
}

// Stop waits for the refresh goroutine to exit so a later ClearTyping cannot
// be overtaken by a stale refresh.
func (m *typingManager) Stop(conversationKey string) {
	m.mu.Lock()
	indicator, exists := m.indicators[conversationKey]
	if exists {
		delete(m.indicators, conversationKey)
	}
	m.mu.Unlock()

	if exists {
		indicator.cancel()
		<-indicator.done
	}
}

func (m *typingManager) StopAll() {
	m.mu.Lock()
	indicators := m.indicators
	m.indicators = make(map[string]*typingIndicator)
	m.mu.Unlock()

	for _, indicator := range indicators {
		indicator.cancel()
		<-indicator.done
	}
}

func (m *typingManager) runIndicator(ctx context.Context, conversationKey string, done chan struct{}) {
	defer close(done)

	if err := m.sender.SetTyping(ctx, conversationKey); err != nil && ctx.Err() == nil {
		m.logger.WarnContext(ctx, "failed to send typing indicator",
			slog.String("conversation", conversationKey),
			slog.Any("error", err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sender.SetTyping(ctx, conversationKey); err != nil && ctx.Err() == nil {
				// Keep going; the counterpart may come back online.
				m.logger.WarnContext(ctx, "failed to refresh typing indicator",
					slog.String("conversation", conversationKey),
					slog.Any("error", err))
			}
		}
	}
}
