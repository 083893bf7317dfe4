// Package channel defines the messaging-channel abstraction the bot reads
// events from and replies through.
package channel

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected indicates the channel has no live session.
	ErrNotConnected = errors.New("channel not connected")

	// ErrHandlerRegistered indicates a handler is already subscribed.
	ErrHandlerRegistered = errors.New("handler already registered")

	// ErrUnknownSubscription indicates the subscription is not the active one.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Kind classifies an inbound event's payload.
type Kind int

const (
	// KindOther is any payload the bot does not answer (stickers, images, reactions).
	KindOther Kind = iota
	// KindText is a plain text message.
	KindText
	// KindAudio is a voice note or audio attachment.
	KindAudio
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// InboundEvent is one message received from the channel. Only one of
// TextBody and the audio fields is meaningful, as selected by Kind. MediaRef
// identifies the attachment for DownloadMedia when AudioPayload was not
// delivered inline.
type InboundEvent struct {
	Timestamp          time.Time
	ID                 string
	ConversationKey    string
	ContactDisplayName string
	TextBody           string
	AudioMIMEType      string
	MediaRef           string
	AudioPayload       []byte
	Kind               Kind
	IsGroup            bool
	IsSelfSent         bool
}

// Handler consumes inbound events. It must not block on slow work.
type Handler func(ctx context.Context, ev InboundEvent)

// Subscription identifies a registered handler.
type Subscription struct {
	ID string
}

// Sender delivers output to a conversation.
type Sender interface {
	// SendText sends a text message.
	SendText(ctx context.Context, conversationKey, text string) error

	// SetTyping shows the typing indicator to the counterpart.
	SetTyping(ctx context.Context, conversationKey string) error

	// ClearTyping hides the typing indicator.
	ClearTyping(ctx context.Context, conversationKey string) error
}

// MediaSource fetches attachment bytes.
type MediaSource interface {
	// CanDownload reports whether the event's media can be fetched.
	CanDownload(ev InboundEvent) bool

	// DownloadMedia returns the raw attachment bytes.
	DownloadMedia(ctx context.Context, ev InboundEvent) ([]byte, error)
}

// Channel is the full messaging surface.
type Channel interface {
	Sender
	MediaSource

	// Connected reports whether the channel has a live session.
	Connected(ctx context.Context) bool

	// Register subscribes handler to inbound events. Only one handler may be
	// registered at a time.
	Register(handler Handler) (Subscription, error)

	// Unregister removes the subscription.
	Unregister(sub Subscription) error

	// Active reports whether sub is the currently registered subscription.
	Active(sub Subscription) bool

	// DisplayName looks up the contact name for a conversation.
	DisplayName(ctx context.Context, conversationKey string) (string, error)
}
