// Package config provides configuration loading and validation for the
// concierge daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables read by viper.
const EnvPrefix = "CONCIERGE"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Generation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config is the complete process configuration.
type Config struct {
	Signal           SignalConfig
	Settings         SettingsConfig
	Store            StoreConfig
	Generation       GenerationConfig
	Transcription    TranscriptionConfig
	API              APIConfig
	Logging          LoggingConfig
	AnthropicAPIKey  string
	GeminiAPIKey     string
	OpenAIAPIKey     string
	MaxConcurrent    int
	ShutdownTimeout  time.Duration
	ConfigureOnStart bool
}

// SignalConfig locates the signal-cli daemon.
type SignalConfig struct {
	Socket  string
	Account string
}

// SettingsConfig locates the behavior settings file.
type SettingsConfig struct {
	Path string
}

// StoreConfig selects and bounds the conversation store.
type StoreConfig struct {
	Driver           string
	Path             string
	Window           int
	MaxConversations int
	IdleTTL          time.Duration
}

// GenerationConfig selects the reply model.
type GenerationConfig struct {
	Provider  string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// TranscriptionConfig configures speech-to-text.
type TranscriptionConfig struct {
	Model    string
	Language string
	Timeout  time.Duration
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Listen string
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("signal.socket", "/var/run/signal-cli/socket")
	v.SetDefault("signal.account", "")
	v.SetDefault("settings.path", "settings.yaml")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.path", "concierge.db")
	v.SetDefault("store.window", 10)
	v.SetDefault("store.max_conversations", 10000)
	v.SetDefault("store.idle_ttl", 30*24*time.Hour)
	v.SetDefault("generation.provider", ProviderAnthropic)
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.timeout", 60*time.Second)
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.language", "pt")
	v.SetDefault("transcription.timeout", 60*time.Second)
	v.SetDefault("router.max_concurrent", 8)
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("configure_on_start", true)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Provider keys also honor the vendors' conventional variables.
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Signal: SignalConfig{
			Socket:  strings.TrimSpace(v.GetString("signal.socket")),
			Account: strings.TrimSpace(v.GetString("signal.account")),
		},
		Settings: SettingsConfig{
			Path: strings.TrimSpace(v.GetString("settings.path")),
		},
		Store: StoreConfig{
			Driver:           strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			Path:             strings.TrimSpace(v.GetString("store.path")),
			Window:           v.GetInt("store.window"),
			MaxConversations: v.GetInt("store.max_conversations"),
			IdleTTL:          v.GetDuration("store.idle_ttl"),
		},
		Generation: GenerationConfig{
			Provider:  strings.ToLower(strings.TrimSpace(v.GetString("generation.provider"))),
			Model:     strings.TrimSpace(v.GetString("generation.model")),
			MaxTokens: v.GetInt("generation.max_tokens"),
			Timeout:   v.GetDuration("generation.timeout"),
		},
		Transcription: TranscriptionConfig{
			Model:    strings.TrimSpace(v.GetString("transcription.model")),
			Language: strings.TrimSpace(v.GetString("transcription.language")),
			Timeout:  v.GetDuration("transcription.timeout"),
		},
		API: APIConfig{
			Listen: strings.TrimSpace(v.GetString("api.listen")),
		},
		Logging: LoggingConfig{
			Level:     v.GetString("logging.level"),
			Format:    v.GetString("logging.format"),
			AddSource: v.GetBool("logging.add_source"),
		},
		AnthropicAPIKey:  strings.TrimSpace(v.GetString("anthropic.api_key")),
		GeminiAPIKey:     strings.TrimSpace(v.GetString("gemini.api_key")),
		OpenAIAPIKey:     strings.TrimSpace(v.GetString("openai.api_key")),
		MaxConcurrent:    v.GetInt("router.max_concurrent"),
		ShutdownTimeout:  v.GetDuration("shutdown_timeout"),
		ConfigureOnStart: v.GetBool("configure_on_start"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
// Missing API keys are allowed; the affected provider reports itself
// unavailable per call instead.
func (c Config) Validate() error {
	if c.Signal.Account == "" {
		return fmt.Errorf("signal.account is required")
	}
	if c.Signal.Socket == "" {
		return fmt.Errorf("signal.socket is required")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver: %s", c.Store.Driver)
	}
	if c.Store.Window <= 0 {
		return fmt.Errorf("store.window must be positive, got %d", c.Store.Window)
	}

	switch c.Generation.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown generation.provider: %s", c.Generation.Provider)
	}
	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens must not be negative")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("router.max_concurrent must be positive, got %d", c.MaxConcurrent)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := handlerFor(c.Logging, nil); err != nil {
		return err
	}
	return nil
}
