// Package registry owns the single subscription that connects the router to
// the messaging channel.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/concierge/internal/channel"
)

// ErrNotConnected is returned by Configure when the channel has no session.
var ErrNotConnected = channel.ErrNotConnected

// Result reports what Configure did.
type Result struct {
	SubscriptionID    string `json:"subscription_id"`
	AlreadyConfigured bool   `json:"already_configured"`
}

// Registry installs at most one handler on a channel.
type Registry struct {
	channel channel.Channel
	handler channel.Handler
	current *channel.Subscription
	logger  *slog.Logger
	mu      sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry that subscribes handler to ch.
func New(ch channel.Channel, handler channel.Handler, opts ...Option) *Registry {
	r := &Registry{
		channel: ch,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure subscribes the handler unless it is already subscribed. A stored
// subscription the channel no longer honors is revoked and replaced.
func (r *Registry) Configure(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.channel.Active(*r.current) {
		return Result{AlreadyConfigured: true, SubscriptionID: r.current.ID}, nil
	}

	if !r.channel.Connected(ctx) {
		return Result{}, fmt.Errorf("configure: %w", ErrNotConnected)
	}

	if r.current != nil {
		r.logger.InfoContext(ctx, "replacing stale subscription",
			slog.String("subscription", r.current.ID))
		if err := r.channel.Unregister(*r.current); err != nil && !errors.Is(err, channel.ErrUnknownSubscription) {
			return Result{}, fmt.Errorf("revoke stale subscription: %w", err)
		}
		r.current = nil
	}

	sub, err := r.channel.Register(r.handler)
	if err != nil {
		return Result{}, fmt.Errorf("register handler: %w", err)
	}
	r.current = &sub

	r.logger.InfoContext(ctx, "bot configured", slog.String("subscription", sub.ID))
	return Result{SubscriptionID: sub.ID}, nil
}

// IsConfigured reports whether the handler is currently subscribed.
func (r *Registry) IsConfigured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current != nil && r.channel.Active(*r.current)
}

// Revoke removes the subscription. Revoking an unconfigured registry is a
// no-op.
func (r *Registry) Revoke(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}

	sub := *r.current
	r.current = nil
	if err := r.channel.Unregister(sub); err != nil && !errors.Is(err, channel.ErrUnknownSubscription) {
		return fmt.Errorf("unregister handler: %w", err)
	}

	r.logger.InfoContext(ctx, "bot subscription revoked", slog.String("subscription", sub.ID))
	return nil
}
