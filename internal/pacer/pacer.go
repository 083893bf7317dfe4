// Package pacer delays replies in proportion to their length so the bot
// answers at a human typing pace, keeping the typing indicator up meanwhile.
package pacer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/concierge/internal/channel"
)

const (
	// PerCharacterDelay is the simulated typing time per reply character.
	PerCharacterDelay = 30 * time.Millisecond

	// MaxTypingDelay caps the length-proportional part of the delay.
	MaxTypingDelay = 5 * time.Second
)

// ErrTransport wraps failures to clear the indicator or send the reply.
var ErrTransport = errors.New("transport failure")

// ComputeDelay returns baseSeconds plus 30ms per character, the per-character
// part capped at five seconds. A negative base counts as zero.
func ComputeDelay(reply string, baseSeconds int) time.Duration {
	base := time.Duration(max(baseSeconds, 0)) * time.Second
	typing := time.Duration(utf8.RuneCountInString(reply)) * PerCharacterDelay
	return base + min(typing, MaxTypingDelay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer drives typing-indicator state around reply delivery.
type Pacer struct {
	sender channel.Sender
	typing channel.TypingIndicatorManager
	sleep  SleepFunc
	logger *slog.Logger
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pacer) {
		p.logger = logger
	}
}

// WithSleep replaces the wait between typing and sending.
func WithSleep(sleep SleepFunc) Option {
	return func(p *Pacer) {
		p.sleep = sleep
	}
}

// WithTypingManager replaces the typing indicator manager.
func WithTypingManager(typing channel.TypingIndicatorManager) Option {
	return func(p *Pacer) {
		p.typing = typing
	}
}

// New creates a Pacer that sends through sender.
func New(sender channel.Sender, opts ...Option) *Pacer {
	p := &Pacer{
		sender: sender,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.typing == nil {
		p.typing = channel.NewTypingIndicatorManager(sender)
	}
	return p
}

// StartTyping shows the typing indicator until StopTyping or Deliver.
func (p *Pacer) StartTyping(ctx context.Context, conversationKey string) {
	if err := p.typing.Start(ctx, conversationKey); err != nil {
		p.logger.WarnContext(ctx, "failed to start typing indicator",
			slog.String("conversation", conversationKey),
			slog.Any("error", err))
	}
}

// StopTyping stops refreshing and clears the typing indicator.
func (p *Pacer) StopTyping(ctx context.Context, conversationKey string) error {
	p.typing.Stop(conversationKey)
	if err := p.sender.ClearTyping(ctx, conversationKey); err != nil {
		return fmt.Errorf("%w: clear typing: %w", ErrTransport, err)
	}
	return nil
}

// Deliver waits ComputeDelay(reply, baseSeconds) with the typing indicator
// active, clears the indicator and sends the reply. It makes one attempt; a
// clear or send failure is returned wrapped in ErrTransport. If ctx ends
// during the wait nothing is sent and ctx's error is returned.
func (p *Pacer) Deliver(ctx context.Context, conversationKey, reply string, baseSeconds int) error {
	p.StartTyping(ctx, conversationKey)

	delay := ComputeDelay(reply, baseSeconds)
	if err := p.sleep(ctx, delay); err != nil {
		p.typing.Stop(conversationKey)
		return err
	}

	var errs []error
	p.typing.Stop(conversationKey)
	if err := p.sender.ClearTyping(ctx, conversationKey); err != nil {
		errs = append(errs, fmt.Errorf("clear typing: %w", err))
	}
	if err := p.sender.SendText(ctx, conversationKey, reply); err != nil {
		errs = append(errs, fmt.Errorf("send: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrTransport, errors.Join(errs...))
	}

	p.logger.DebugContext(ctx, "reply delivered",
		slog.String("conversation", conversationKey),
		slog.Duration("delay", delay),
		slog.Int("length", len(reply)))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
