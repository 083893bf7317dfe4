// Package provider defines the text-generation and speech-to-text
// collaborators the router delegates to.
package provider

import (
	"context"

	"github.com/Veraticus/concierge/internal/conversation"
)

// GenerateRequest is a single generation call.
type GenerateRequest struct {
	SystemPrompt string
	Turns        conversation.History
}

// Generator produces one reply for a conversation.
type Generator interface {
	// Generate returns the reply text. A reply whose content is not plain
	// text is reported as ErrUnsupportedContent.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// TranscribeRequest is a single speech-to-text call.
type TranscribeRequest struct {
	MIMEType string
	Language string
	Audio    []byte
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}
