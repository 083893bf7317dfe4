// Package claude implements provider.Generator on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/provider"
)

const (
	providerName = "anthropic"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxTokens bounds the reply length.
	DefaultMaxTokens = 1024

	// DefaultTimeout is the default timeout for a generation call.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Claude generator.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// messagesAPI is the part of the SDK used here (allows mocking in tests).
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client implements provider.Generator.
type Client struct {
	messages messagesAPI
	config   Config
}

var _ provider.Generator = (*Client)(nil)

// NewClient creates a Claude generator. A missing API key is not an error
// here: the bot still starts, and every call reports provider.ErrUnavailable.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{config: config}
	if config.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(config.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		c.messages = &client.Messages
	}
	return c
}

// Generate implements provider.Generator.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	if c.messages == nil {
		return "", provider.NewError(providerName, "generate", provider.KindUnavailable,
			fmt.Errorf("anthropic api key not configured"))
	}

	messages := buildMessages(req.Turns)
	if len(messages) == 0 {
		return "", provider.NewError(providerName, "generate", provider.KindFailure,
			fmt.Errorf("no user turn to answer"))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.messages.New(callCtx, params)
	if err != nil {
		return "", provider.NewError(providerName, "generate", classify(err), err)
	}

	return replyText(resp)
}

// buildMessages converts history into API messages. The API wants the
// conversation to open with a user turn and roles to alternate, so leading
// assistant turns are skipped and consecutive same-role turns are joined.
func buildMessages(turns conversation.History) []anthropic.MessageParam {
	type block struct {
		role conversation.Role
		text []string
	}

	var blocks []block
	for _, turn := range turns {
		if len(blocks) == 0 && turn.Role != conversation.RoleUser {
			continue
		}
		if n := len(blocks); n > 0 && blocks[n-1].role == turn.Role {
			blocks[n-1].text = append(blocks[n-1].text, turn.Content)
			continue
		}
		blocks = append(blocks, block{role: turn.Role, text: []string{turn.Content}})
	}

	messages := make([]anthropic.MessageParam, 0, len(blocks))
	for _, b := range blocks {
		content := anthropic.NewTextBlock(strings.Join(b.text, "\n"))
		if b.role == conversation.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(content))
		} else {
			messages = append(messages, anthropic.NewUserMessage(content))
		}
	}
	return messages
}

// replyText extracts the reply. Only a leading text block counts as a reply.
func replyText(resp *anthropic.Message) (string, error) {
	if resp == nil || len(resp.Content) == 0 {
		return "", provider.NewError(providerName, "generate", provider.KindFailure,
			fmt.Errorf("empty response"))
	}

	first := resp.Content[0]
	if first.Type != "text" {
		return "", provider.NewError(providerName, "generate", provider.KindUnsupported,
			fmt.Errorf("content block of type %q", first.Type))
	}
	return first.Text, nil
}

func classify(err error) provider.Kind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.KindUnavailable
		}
	}
	return provider.KindFailure
}
