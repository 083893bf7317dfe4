package signal

import (
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/concierge/internal/channel"
)

// convertEnvelope turns an envelope into an inbound event. Typing and receipt
// envelopes carry no message and are skipped.
func convertEnvelope(env *Envelope, account string) (channel.InboundEvent, bool) {
	if env == nil {
		return channel.InboundEvent{}, false
	}

	var (
		key         string
		text        string
		attachments []Attachment
		group       *GroupInfo
		selfSent    bool
		timestamp   = env.Timestamp
	)

	switch {
	case env.DataMessage != nil:
		key = sourceKey(env)
		text = env.DataMessage.Message
		attachments = env.DataMessage.Attachments
		group = env.DataMessage.GroupInfo
		selfSent = account != "" && (env.SourceNumber == account || env.Source == account)
		if env.DataMessage.Timestamp != 0 {
			timestamp = env.DataMessage.Timestamp
		}
	case env.SyncMessage != nil && env.SyncMessage.SentMessage != nil:
		// Sent by the account from another device.
		sent := env.SyncMessage.SentMessage
		key = sent.DestinationNumber
		if key == "" {
			key = sent.Destination
		}
		text = sent.Message
		attachments = sent.Attachments
		group = sent.GroupInfo
		selfSent = true
		if sent.Timestamp != 0 {
			timestamp = sent.Timestamp
		}
	default:
		return channel.InboundEvent{}, false
	}

	ev := channel.InboundEvent{
		ID:                 strconv.FormatInt(timestamp, 10),
		Timestamp:          time.UnixMilli(timestamp),
		ConversationKey:    key,
		ContactDisplayName: env.SourceName,
		TextBody:           text,
		IsGroup:            group != nil,
		IsSelfSent:         selfSent,
		Kind:               channel.KindOther,
	}
	if selfSent {
		ev.ContactDisplayName = ""
	}

	if audio, ok := firstAudio(attachments); ok {
		ev.Kind = channel.KindAudio
		ev.MediaRef = audio.ID
		ev.AudioMIMEType = audio.ContentType
	} else if strings.TrimSpace(text) != "" {
		ev.Kind = channel.KindText
	}

	return ev, true
}

func sourceKey(env *Envelope) string {
	switch {
	case env.SourceNumber != "":
		return env.SourceNumber
	case env.Source != "":
		return env.Source
	default:
		return env.SourceUUID
	}
}

func firstAudio(attachments []Attachment) (Attachment, bool) {
	for _, a := range attachments {
		if strings.HasPrefix(strings.ToLower(a.ContentType), "audio/") {
			return a, true
		}
	}
	return Attachment{}, false
}
