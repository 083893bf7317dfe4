package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/concierge/internal/provider"
)

func TestExtensionForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/ogg; codecs=opus", "ogg"},
		{"audio/ogg", "ogg"},
		{"audio/mpeg", "mp3"},
		{"audio/mp3", "mp3"},
		{"audio/wav", "wav"},
		{"audio/x-wav", "wav"},
		{"audio/m4a", "m4a"},
		{"audio/x-m4a", "m4a"},
		{"audio/mp4", "m4a"},
		{"AUDIO/MPEG", "mp3"},
		{"", "ogg"},
		{"garbage", "ogg"},
		{"audio/flac", "ogg"},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.ExtensionForMIME(tt.mime))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	unavailable := provider.NewError("anthropic", "generate", provider.KindUnavailable, errors.New("no key"))
	assert.True(t, provider.IsUnavailable(unavailable))
	assert.False(t, provider.IsUnsupportedContent(unavailable))

	unsupported := fmt.Errorf("wrapped: %w",
		provider.NewError("anthropic", "generate", provider.KindUnsupported, errors.New("tool_use block")))
	assert.True(t, provider.IsUnsupportedContent(unsupported))

	timeout := provider.NewError("openai", "transcribe", provider.KindFailure,
		fmt.Errorf("post: %w", context.DeadlineExceeded))
	assert.True(t, provider.IsTimeout(timeout))
	assert.Equal(t, provider.KindTimeout, timeout.Kind)
	assert.Contains(t, timeout.Error(), "openai transcribe timeout")

	assert.True(t, provider.IsUnavailable(provider.ErrUnavailable))
	assert.False(t, provider.IsTimeout(errors.New("boom")))
}
