package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope represents an incoming message envelope.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceUUID   string `json:"sourceUuid"`
	SourceName   string `json:"sourceName"`
	SourceDevice int    `json:"sourceDevice"`
	Timestamp    int64  `json:"timestamp"`

	// Message types (only one will be non-nil)
	DataMessage    *DataMessage    `json:"dataMessage,omitempty"`
	SyncMessage    *SyncMessage    `json:"syncMessage,omitempty"`
	TypingMessage  *TypingMessage  `json:"typingMessage,omitempty"`
	ReceiptMessage *ReceiptMessage `json:"receiptMessage,omitempty"`
}

// DataMessage represents a standard message.
type DataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments"`
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
}

// Attachment represents a file attachment.
type Attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// SyncMessage represents a sync message.
type SyncMessage struct {
	SentMessage *SentSyncMessage `json:"sentMessage,omitempty"`
}

// SentSyncMessage is a message the account sent from another device.
type SentSyncMessage struct {
	Destination       string       `json:"destination"`
	DestinationNumber string       `json:"destinationNumber"`
	Timestamp         int64        `json:"timestamp"`
	Message           string       `json:"message"`
	Attachments       []Attachment `json:"attachments"`
	GroupInfo         *GroupInfo   `json:"groupInfo,omitempty"`
}

// TypingMessage represents a typing indicator.
type TypingMessage struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// ReceiptMessage represents a read receipt.
type ReceiptMessage struct {
	When       int64   `json:"when"`
	IsDelivery bool    `json:"isDelivery"`
	IsRead     bool    `json:"isRead"`
	Timestamps []int64 `json:"timestamps"`
}

// GroupInfo represents group information.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

// Contact is an entry of the account's address book.
type Contact struct {
	Profile    *Profile `json:"profile,omitempty"`
	Number     string   `json:"number"`
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	GivenName  string   `json:"givenName"`
	FamilyName string   `json:"familyName"`
}

// Profile is the name a contact publishes for themselves.
type Profile struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// DisplayName prefers the saved contact name over the published profile.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if name := joinName(c.GivenName, c.FamilyName); name != "" {
		return name
	}
	if c.Profile != nil {
		return joinName(c.Profile.GivenName, c.Profile.FamilyName)
	}
	return ""
}

func joinName(given, family string) string {
	return strings.TrimSpace(given + " " + family)
}

// Client issues signal-cli JSON-RPC calls.
type Client struct {
	transport Transport
	account   string // Optional account for multi-account mode
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAccount sets the account for multi-account mode.
func WithAccount(account string) ClientOption {
	return func(c *Client) {
		c.account = account
	}
}

// NewClient creates a new Signal client.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (*json.RawMessage, error) {
	if params == nil {
		params = make(map[string]any)
	}
	if c.account != "" {
		params["account"] = c.account
	}
	return c.transport.Call(ctx, method, params)
}

// Send sends a text message and returns its timestamp.
func (c *Client) Send(ctx context.Context, recipient, message string) (int64, error) {
	if recipient == "" {
		return 0, fmt.Errorf("recipient cannot be empty")
	}
	if message == "" {
		return 0, fmt.Errorf("message cannot be empty")
	}

	result, err := c.call(ctx, "send", map[string]any{
		"recipient": []string{recipient},
		"message":   message,
	})
	if err != nil {
		return 0, fmt.Errorf("send failed: %w", err)
	}
	if result == nil {
		return 0, fmt.Errorf("invalid response: empty result")
	}

	var resp struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(*result, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Timestamp == 0 {
		return 0, fmt.Errorf("invalid response: missing timestamp")
	}
	return resp.Timestamp, nil
}

// SendTyping starts or stops the typing indicator.
func (c *Client) SendTyping(ctx context.Context, recipient string, stop bool) error {
	if recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if _, err := c.call(ctx, "sendTyping", map[string]any{
		"recipient": []string{recipient},
		"stop":      stop,
	}); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// GetAttachment fetches an attachment received from recipient.
func (c *Client) GetAttachment(ctx context.Context, id, recipient string) ([]byte, error) {
	params := map[string]any{"id": id}
	if recipient != "" {
		params["recipient"] = recipient
	}

	result, err := c.call(ctx, "getAttachment", params)
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("get attachment: empty result")
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(*result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse attachment: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return data, nil
}

// ListContacts returns the account's contacts.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	result, err := c.call(ctx, "listContacts", nil)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	var contacts []Contact
	if err := json.Unmarshal(*result, &contacts); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	return contacts, nil
}

// Version returns the signal-cli version. It doubles as a liveness check.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.transport.Call(ctx, "version", nil)
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	if result == nil {
		return "", nil
	}

	var resp struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(*result, &resp); err != nil {
		return "", fmt.Errorf("failed to parse version: %w", err)
	}
	return resp.Version, nil
}

// Subscribe returns incoming envelopes. The channel is closed when ctx ends
// or the transport's notification stream closes.
func (c *Client) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	notifications, err := c.transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	envelopes := make(chan *Envelope, 10)
	go c.processNotifications(ctx, notifications, envelopes)

	return envelopes, nil
}

func (c *Client) processNotifications(ctx context.Context, notifications <-chan *Notification, envelopes chan<- *Envelope) {
	defer close(envelopes)

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			if notif.Method != "receive" {
				continue
			}
			envelope := parseEnvelope(notif)
			if envelope == nil {
				continue
			}
			select {
			case envelopes <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseEnvelope(notif *Notification) *Envelope {
	var params struct {
		Envelope *Envelope `json:"envelope"`
	}
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		return nil
	}
	return params.Envelope
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
