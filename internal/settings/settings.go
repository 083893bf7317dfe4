// Package settings supplies the operator-controlled behavior of the bot. The
// settings are re-read for every inbound event so edits apply to the next
// message without a restart.
package settings

import (
	"context"
	"strings"
)

const (
	// DefaultPersonaName is used when no persona is configured.
	DefaultPersonaName = "Assistente"
	// DefaultTone is used when no tone is configured.
	DefaultTone = "amigável e profissional"
	// DefaultResponseDelaySeconds is the base pacing delay.
	DefaultResponseDelaySeconds = 2
	// DefaultSystemPromptTemplate is rendered with the persona name and tone.
	DefaultSystemPromptTemplate = `Você é {{.PersonaName}}, atendente virtual que conversa pelo WhatsApp.
Responda sempre em português do Brasil, com tom {{.Tone}}.
Escreva mensagens curtas e naturais, como uma pessoa digitando no celular.
Nunca diga que é uma inteligência artificial e nunca invente informações que não tem.`
)

// ContactOverride adds instructions for counterparts whose display name
// matches Pattern.
type ContactOverride struct {
	Pattern      string `json:"pattern"`
	Instructions string `json:"instructions"`
}

// BehaviorSettings governs persona and reply policy. SpecialContacts keeps
// declaration order; the first match wins.
type BehaviorSettings struct {
	PersonaName          string            `json:"persona_name"`
	Tone                 string            `json:"tone"`
	SystemPromptTemplate string            `json:"system_prompt"`
	SpecialContacts      []ContactOverride `json:"special_contacts"`
	ResponseDelaySeconds int               `json:"response_delay_seconds"`
	AutoReplyEnabled     bool              `json:"auto_reply_enabled"`
}

// Provider loads the current settings.
type Provider interface {
	// Load returns the settings in effect right now. Implementations fall
	// back to Defaults rather than failing.
	Load(ctx context.Context) BehaviorSettings
}

// Defaults returns the settings used when nothing is configured.
func Defaults() BehaviorSettings {
	return BehaviorSettings{
		PersonaName:          DefaultPersonaName,
		Tone:                 DefaultTone,
		AutoReplyEnabled:     true,
		ResponseDelaySeconds: DefaultResponseDelaySeconds,
		SystemPromptTemplate: DefaultSystemPromptTemplate,
	}
}

// MatchContact returns the first override whose pattern contains, or is
// contained in, displayName. Comparison ignores case.
func (s BehaviorSettings) MatchContact(displayName string) (ContactOverride, bool) {
	name := strings.ToLower(strings.TrimSpace(displayName))
	if name == "" {
		return ContactOverride{}, false
	}

	for _, override := range s.SpecialContacts {
		pattern := strings.ToLower(strings.TrimSpace(override.Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(name, pattern) || strings.Contains(pattern, name) {
			return override, true
		}
	}
	return ContactOverride{}, false
}

// StaticProvider always returns the same settings.
type StaticProvider struct {
	Settings BehaviorSettings
}

// Load implements Provider.
func (p StaticProvider) Load(_ context.Context) BehaviorSettings {
	return p.Settings
}
