// Package gemini implements provider.Generator using the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/provider"
)

const (
	providerName = "gemini"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxTokens bounds the reply length.
	DefaultMaxTokens = 1024

	// DefaultTimeout is the default timeout for a generation call.
	DefaultTimeout = 60 * time.Second

	roleUser  = "user"
	roleModel = "model"
)

// Config holds configuration for the Gemini generator.
type Config struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements provider.Generator.
type Provider struct {
	models modelsAPI
	config Config
}

var _ provider.Generator = (*Provider)(nil)

// New creates a Gemini generator. Without an API key every call reports
// provider.ErrUnavailable.
func New(ctx context.Context, config Config) (*Provider, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	config.MaxTokens = min(config.MaxTokens, math.MaxInt32)
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	p := &Provider{config: config}
	if config.APIKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.models = client.Models
	return p, nil
}

// Generate implements provider.Generator.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	if p.models == nil {
		return "", provider.NewError(providerName, "generate", provider.KindUnavailable,
			fmt.Errorf("gemini api key not configured"))
	}

	contents := buildContents(req.Turns)
	if len(contents) == 0 {
		return "", provider.NewError(providerName, "generate", provider.KindFailure,
			fmt.Errorf("no user turn to answer"))
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.config.MaxTokens), //nolint:gosec // clamped in New
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.models.GenerateContent(callCtx, p.config.Model, contents, config)
	if err != nil {
		return "", provider.NewError(providerName, "generate", classify(err), err)
	}

	return replyText(resp)
}

// classify maps rejected credentials to KindUnavailable.
func classify(err error) provider.Kind {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.KindUnavailable
	}
	return provider.KindFailure
}

func buildContents(turns conversation.History) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range turns {
		role := roleUser
		if turn.Role == conversation.RoleAssistant {
			if len(contents) == 0 {
				continue
			}
			role = roleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	return contents
}

// replyText joins the text parts of the first candidate. A candidate with
// no text parts (function calls, inline data) is unsupported content.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", provider.NewError(providerName, "generate", provider.KindFailure,
			fmt.Errorf("empty response"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", provider.NewError(providerName, "generate", provider.KindUnsupported,
			fmt.Errorf("candidate has no text parts"))
	}
	return text.String(), nil
}
