package settings

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// ValidateSystemPrompt ensures the system prompt is valid.
// A valid prompt must be non-empty after trimming whitespace.
func ValidateSystemPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("system prompt is empty")
	}
	return nil
}

// RenderSystemPrompt builds the system prompt for one event. The template is
// rendered with the persona name and tone; when a contact override matched,
// its instructions and the counterpart's display name are appended.
func RenderSystemPrompt(s BehaviorSettings, override *ContactOverride, displayName string) string {
	prompt := renderTemplate(s)

	if override == nil {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nInstruções especiais para este contato (")
	b.WriteString(displayName)
	b.WriteString("):\n")
	b.WriteString(override.Instructions)
	return b.String()
}

// renderTemplate executes the template, returning the raw text when it does
// not parse or execute.
func renderTemplate(s BehaviorSettings) string {
	source := s.SystemPromptTemplate
	if ValidateSystemPrompt(source) != nil {
		source = DefaultSystemPromptTemplate
	}

	t, err := template.New("system").Option("missingkey=error").Parse(source)
	if err != nil {
		return source
	}

	var b bytes.Buffer
	data := struct {
		PersonaName string
		Tone        string
	}{
		PersonaName: s.PersonaName,
		Tone:        s.Tone,
	}
	if err := t.Execute(&b, data); err != nil {
		return source
	}
	return b.String()
}
