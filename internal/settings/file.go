package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileProvider reads settings from a YAML file on every Load.
//
// Example:
//
//	persona_name: Ana
//	tone: descontraído
//	auto_reply_enabled: true
//	response_delay_seconds: 3
//	system_prompt: |
//	  Você é {{.PersonaName}} ...
//	special_contacts:
//	  maria: Trate com carinho, é cliente antiga.
//	  joão: Seja breve.
type FileProvider struct {
	logger *slog.Logger
	path   string
}

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) FileOption {
	return func(p *FileProvider) {
		p.logger = logger
	}
}

// NewFileProvider creates a provider for the YAML file at path.
func NewFileProvider(path string, opts ...FileOption) *FileProvider {
	p := &FileProvider{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load implements Provider. A missing or unreadable file yields Defaults.
// Fields that fail to decode fall back to their defaults one by one.
func (p *FileProvider) Load(ctx context.Context) BehaviorSettings {
	data, err := os.ReadFile(p.path) // #nosec G304 - path comes from config
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.WarnContext(ctx, "failed to read settings, using defaults",
				slog.String("path", p.path),
				slog.Any("error", err))
		}
		return Defaults()
	}

	s, err := Parse(data)
	switch {
	case errors.Is(err, ErrInvalidField):
		p.logger.WarnContext(ctx, "ignoring invalid settings fields",
			slog.String("path", p.path),
			slog.Any("error", err))
		return s
	case err != nil:
		p.logger.WarnContext(ctx, "failed to parse settings, using defaults",
			slog.String("path", p.path),
			slog.Any("error", err))
		return Defaults()
	}
	return s
}

// ErrInvalidField marks a settings field that was ignored because its value
// could not be decoded.
var ErrInvalidField = errors.New("invalid settings field")

// fileSettings mirrors the YAML layout. Each field is decoded on its own so a
// bad value only costs that field.
type fileSettings struct {
	PersonaName          yaml.Node `yaml:"persona_name"`
	Tone                 yaml.Node `yaml:"tone"`
	AutoReplyEnabled     yaml.Node `yaml:"auto_reply_enabled"`
	ResponseDelaySeconds yaml.Node `yaml:"response_delay_seconds"`
	SystemPrompt         yaml.Node `yaml:"system_prompt"`
	SpecialContacts      yaml.Node `yaml:"special_contacts"`
}

// Parse decodes YAML settings, filling absent fields from Defaults. A
// document that is not valid YAML is an error. Otherwise Parse always returns
// usable settings; fields with bad values keep their defaults and are
// reported in an error wrapping ErrInvalidField.
func Parse(data []byte) (BehaviorSettings, error) {
	var raw fileSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return BehaviorSettings{}, fmt.Errorf("decode settings: %w", err)
	}

	s := Defaults()
	var errs []error

	if v, ok := decodeField[string](&raw.PersonaName, "persona_name", &errs); ok && strings.TrimSpace(v) != "" {
		s.PersonaName = strings.TrimSpace(v)
	}
	if v, ok := decodeField[string](&raw.Tone, "tone", &errs); ok && strings.TrimSpace(v) != "" {
		s.Tone = strings.TrimSpace(v)
	}
	if v, ok := decodeField[bool](&raw.AutoReplyEnabled, "auto_reply_enabled", &errs); ok {
		s.AutoReplyEnabled = v
	}
	if v, ok := decodeField[int](&raw.ResponseDelaySeconds, "response_delay_seconds", &errs); ok {
		s.ResponseDelaySeconds = max(v, 0)
	}
	if v, ok := decodeField[string](&raw.SystemPrompt, "system_prompt", &errs); ok {
		if err := ValidateSystemPrompt(v); err != nil {
			errs = append(errs, fmt.Errorf("%w: system_prompt (line %d): %w", ErrInvalidField, raw.SystemPrompt.Line, err))
		} else {
			s.SystemPromptTemplate = v
		}
	}

	overrides, err := decodeOverrides(&raw.SpecialContacts)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidField, err))
		overrides = nil
	}
	s.SpecialContacts = overrides

	return s, errors.Join(errs...)
}

// decodeField decodes node into a T. Absent and null nodes report false
// without an error.
func decodeField[T any](node *yaml.Node, name string, errs *[]error) (T, bool) {
	var v T
	if node.Kind == 0 || node.ShortTag() == "!!null" {
		return v, false
	}
	if err := node.Decode(&v); err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s (line %d): %w", ErrInvalidField, name, node.Line, err))
		return v, false
	}
	return v, true
}

// decodeOverrides accepts either a mapping of pattern to instructions or a
// list of {pattern, instructions} entries. Both keep document order.
func decodeOverrides(node *yaml.Node) ([]ContactOverride, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		overrides := make([]ContactOverride, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("special_contacts.%s: instructions must be a string (line %d)", key.Value, value.Line)
			}
			overrides = append(overrides, ContactOverride{
				Pattern:      key.Value,
				Instructions: value.Value,
			})
		}
		return overrides, nil
	case yaml.SequenceNode:
		overrides := make([]ContactOverride, 0, len(node.Content))
		for _, item := range node.Content {
			var o struct {
				Pattern      string `yaml:"pattern"`
				Instructions string `yaml:"instructions"`
			}
			if err := item.Decode(&o); err != nil {
				return nil, fmt.Errorf("special_contacts (line %d): %w", item.Line, err)
			}
			overrides = append(overrides, ContactOverride{Pattern: o.Pattern, Instructions: o.Instructions})
		}
		return overrides, nil
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("special_contacts must be a mapping or a list (line %d)", node.Line)
}
