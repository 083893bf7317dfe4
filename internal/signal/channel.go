// Package signal connects the bot to Signal through a signal-cli daemon
// speaking JSON-RPC on a unix socket.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/concierge/internal/channel"
)

const (
	// DefaultPingTimeout bounds the connectivity check.
	DefaultPingTimeout = 5 * time.Second

	// DefaultReconnectDelay is the first wait before redialing.
	DefaultReconnectDelay = time.Second

	// DefaultContactRefreshInterval is the shortest gap between two address
	// book fetches triggered by unknown senders.
	DefaultContactRefreshInterval = 5 * time.Minute

	// maxReconnectDelay caps the exponential redial backoff.
	maxReconnectDelay = time.Minute
)

// Dialer opens a new transport.
type Dialer func(ctx context.Context) (Transport, error)

// UnixDialer dials the signal-cli socket at socketPath.
func UnixDialer(socketPath string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialUnixSocket(ctx, socketPath)
	}
}

// Channel implements channel.Channel for one Signal account.
type Channel struct {
	dial            Dialer
	client          *Client
	handler         channel.Handler
	subscription    *channel.Subscription
	contacts        map[string]string
	contactsFetched time.Time
	logger          *slog.Logger
	account         string
	pingTimeout     time.Duration
	reconnectDelay  time.Duration
	contactRefresh  time.Duration
	mu              sync.RWMutex
	contactsMu      sync.Mutex
}

var _ channel.Channel = (*Channel)(nil)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithReconnectDelay sets the first wait before redialing a lost connection.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.reconnectDelay = d
	}
}

// WithPingTimeout bounds the connectivity check.
func WithPingTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.pingTimeout = d
	}
}

// WithContactRefreshInterval limits how often a lookup miss refetches the
// address book.
func WithContactRefreshInterval(d time.Duration) Option {
	return func(c *Channel) {
		c.contactRefresh = d
	}
}

// NewChannel creates a channel for account. Run must be called to connect.
func NewChannel(dial Dialer, account string, opts ...Option) *Channel {
	c := &Channel{
		dial:           dial,
		account:        account,
		contacts:       make(map[string]string),
		logger:         slog.Default(),
		pingTimeout:    DefaultPingTimeout,
		reconnectDelay: DefaultReconnectDelay,
		contactRefresh: DefaultContactRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps a connection open and delivers inbound events to the registered
// handler until ctx ends. Lost connections are redialed with backoff.
func (c *Channel) Run(ctx context.Context) error {
	delay := c.reconnectDelay

	for {
		transport, err := c.dial(ctx)
		if err == nil {
			delay = c.reconnectDelay
			c.serve(ctx, transport)
		} else {
			c.logger.WarnContext(ctx, "failed to connect to signal-cli", slog.Any("error", err))
		}

		if ctx.Err() != nil {
			return nil
		}

		c.logger.InfoContext(ctx, "reconnecting to signal-cli", slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (c *Channel) serve(ctx context.Context, transport Transport) {
	client := NewClient(transport, WithAccount(c.account))

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
		if err := client.Close(); err != nil {
			c.logger.DebugContext(ctx, "failed to close transport", slog.Any("error", err))
		}
	}()

	envelopes, err := client.Subscribe(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to subscribe to signal-cli", slog.Any("error", err))
		return
	}
	c.logger.InfoContext(ctx, "connected to signal-cli", slog.String("account", c.account))

	for env := range envelopes {
		ev, ok := convertEnvelope(env, c.account)
		if !ok {
			continue
		}
		c.dispatch(ctx, ev)
	}
	c.logger.WarnContext(ctx, "signal-cli connection closed")
}

func (c *Channel) dispatch(ctx context.Context, ev channel.InboundEvent) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		c.logger.DebugContext(ctx, "no handler registered, dropping event",
			slog.String("conversation", ev.ConversationKey))
		return
	}
	handler(ctx, ev)
}

func (c *Channel) currentClient() (*Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, channel.ErrNotConnected
	}
	return c.client, nil
}

// Connected reports whether signal-cli answers a version request.
func (c *Channel) Connected(ctx context.Context) bool {
	client, err := c.currentClient()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	_, err = client.Version(ctx)
	return err == nil
}

// Register implements channel.Channel.
func (c *Channel) Register(handler channel.Handler) (channel.Subscription, error) {
	if handler == nil {
		return channel.Subscription{}, fmt.Errorf("handler cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscription != nil {
		return channel.Subscription{}, channel.ErrHandlerRegistered
	}
	sub := channel.Subscription{ID: uuid.NewString()}
	c.subscription = &sub
	c.handler = handler
	return sub, nil
}

// Unregister implements channel.Channel.
func (c *Channel) Unregister(sub channel.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscription == nil || c.subscription.ID != sub.ID {
		return channel.ErrUnknownSubscription
	}
	c.subscription = nil
	c.handler = nil
	return nil
}

// Active implements channel.Channel.
func (c *Channel) Active(sub channel.Subscription) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription != nil && c.subscription.ID == sub.ID
}

// SendText implements channel.Sender.
func (c *Channel) SendText(ctx context.Context, conversationKey, text string) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}
	if _, err := client.Send(ctx, conversationKey, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SetTyping implements channel.Sender.
func (c *Channel) SetTyping(ctx context.Context, conversationKey string) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}
	return client.SendTyping(ctx, conversationKey, false)
}

// ClearTyping implements channel.Sender.
func (c *Channel) ClearTyping(ctx context.Context, conversationKey string) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}
	return client.SendTyping(ctx, conversationKey, true)
}

// CanDownload implements channel.MediaSource.
func (c *Channel) CanDownload(ev channel.InboundEvent) bool {
	return len(ev.AudioPayload) > 0 || ev.MediaRef != ""
}

// DownloadMedia implements channel.MediaSource.
func (c *Channel) DownloadMedia(ctx context.Context, ev channel.InboundEvent) ([]byte, error) {
	if len(ev.AudioPayload) > 0 {
		return ev.AudioPayload, nil
	}
	if ev.MediaRef == "" {
		return nil, fmt.Errorf("event %s has no media", ev.ID)
	}

	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}
	return client.GetAttachment(ctx, ev.MediaRef, ev.ConversationKey)
}

// DisplayName looks the conversation up in the address book. A miss
// refetches the book at most once per refresh interval; the lock is not held
// during the fetch.
func (c *Channel) DisplayName(ctx context.Context, conversationKey string) (string, error) {
	c.contactsMu.Lock()
	if name, ok := c.contacts[conversationKey]; ok {
		c.contactsMu.Unlock()
		return name, nil
	}
	if !c.contactsFetched.IsZero() && time.Since(c.contactsFetched) < c.contactRefresh {
		c.contactsMu.Unlock()
		return "", fmt.Errorf("contact %s not found", conversationKey)
	}
	c.contactsFetched = time.Now()
	c.contactsMu.Unlock()

	contacts, err := c.fetchContacts(ctx)
	if err != nil {
		c.contactsMu.Lock()
		c.contactsFetched = time.Time{}
		c.contactsMu.Unlock()
		return "", err
	}

	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()
	c.contacts = contacts

	name, ok := contacts[conversationKey]
	if !ok {
		return "", fmt.Errorf("contact %s not found", conversationKey)
	}
	return name, nil
}

// fetchContacts returns the address book keyed by number and uuid.
func (c *Channel) fetchContacts(ctx context.Context) (map[string]string, error) {
	client, err := c.currentClient()
	if err != nil {
		return nil, err
	}
	contacts, err := client.ListContacts(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(contacts))
	for _, contact := range contacts {
		name := contact.DisplayName()
		if name == "" {
			continue
		}
		if contact.Number != "" {
			names[contact.Number] = name
		}
		if contact.UUID != "" {
			names[contact.UUID] = name
		}
	}
	return names, nil
}
