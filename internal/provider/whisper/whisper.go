// Package whisper implements provider.Transcriber on the OpenAI audio API.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Veraticus/concierge/internal/provider"
)

const (
	providerName = "openai"

	// DefaultLanguage is the language hint sent with every request.
	DefaultLanguage = "pt"

	// DefaultTimeout is the default timeout for a transcription call.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the transcriber.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

type audioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber implements provider.Transcriber.
type Transcriber struct {
	api    audioAPI
	config Config
}

var _ provider.Transcriber = (*Transcriber)(nil)

// New creates a transcriber. Without an API key every call reports
// provider.ErrUnavailable.
func New(config Config) *Transcriber {
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if config.Language == "" {
		config.Language = DefaultLanguage
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	t := &Transcriber{config: config}
	if config.APIKey != "" {
		clientConfig := openai.DefaultConfig(config.APIKey)
		if config.BaseURL != "" {
			clientConfig.BaseURL = config.BaseURL
		}
		t.api = openai.NewClientWithConfig(clientConfig)
	}
	return t
}

// Transcribe implements provider.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req provider.TranscribeRequest) (string, error) {
	if t.api == nil {
		return "", provider.NewError(providerName, "transcribe", provider.KindUnavailable,
			fmt.Errorf("openai api key not configured"))
	}
	if len(req.Audio) == 0 {
		return "", provider.NewError(providerName, "transcribe", provider.KindFailure,
			fmt.Errorf("empty audio payload"))
	}

	language := req.Language
	if language == "" {
		language = t.config.Language
	}

	callCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	resp, err := t.api.CreateTranscription(callCtx, openai.AudioRequest{
		Model:    t.config.Model,
		Reader:   bytes.NewReader(req.Audio),
		FilePath: "audio." + provider.ExtensionForMIME(req.MIMEType),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", provider.NewError(providerName, "transcribe", classify(err), err)
	}

	return strings.TrimSpace(resp.Text), nil
}

func classify(err error) provider.Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.KindUnavailable
		}
	}
	return provider.KindFailure
}
