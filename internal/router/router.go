// Package router decides how the bot answers each inbound event: it filters
// what should be ignored, transcribes voice notes, prompts the generation
// provider with the conversation window and paces the reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/concierge/internal/channel"
	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/pacer"
	"github.com/Veraticus/concierge/internal/provider"
	"github.com/Veraticus/concierge/internal/queue"
	"github.com/Veraticus/concierge/internal/settings"
)

const (
	// AudioFallbackReply is sent when a voice note cannot be transcribed.
	AudioFallbackReply = "Não consegui ouvir direito, pode mandar de novo?"

	// UnsupportedReply replaces a generated reply that is not plain text.
	UnsupportedReply = "Não entendi, pode repetir?"

	// DefaultGenerationTimeout bounds one generation call.
	DefaultGenerationTimeout = 60 * time.Second

	// DefaultTranscriptionTimeout bounds one download plus transcription.
	DefaultTranscriptionTimeout = 60 * time.Second
)

// Dispatcher runs jobs one at a time per conversation key.
type Dispatcher interface {
	Submit(conversationKey string, job queue.Job) error
}

// Config holds the collaborators of a Router. Dispatcher is optional; without
// one Handle processes the event inline.
type Config struct {
	Store       conversation.Store
	Settings    settings.Provider
	Generator   provider.Generator
	Transcriber provider.Transcriber
	Channel     channel.Channel
	Pacer       *pacer.Pacer
	Dispatcher  Dispatcher
}

// Stats counts events by terminal state.
type Stats struct {
	Received    int64 `json:"received"`
	FilteredOut int64 `json:"filtered_out"`
	Replied     int64 `json:"replied"`
	Suppressed  int64 `json:"suppressed"`
	Failed      int64 `json:"failed"`
}

// Router processes inbound events.
type Router struct {
	store                conversation.Store
	settings             settings.Provider
	generator            provider.Generator
	transcriber          provider.Transcriber
	channel              channel.Channel
	pacer                *pacer.Pacer
	dispatcher           Dispatcher
	logger               *slog.Logger
	language             string
	generationTimeout    time.Duration
	transcriptionTimeout time.Duration
	stats                Stats
	statsMu              sync.Mutex
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithGenerationTimeout bounds each generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.generationTimeout = d
	}
}

// WithTranscriptionTimeout bounds each voice note download and transcription.
func WithTranscriptionTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.transcriptionTimeout = d
	}
}

// WithLanguage sets the language hint passed to the transcriber.
func WithLanguage(language string) Option {
	return func(r *Router) {
		r.language = language
	}
}

// New creates a Router.
func New(cfg Config, opts ...Option) (*Router, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("conversation store is required")
	case cfg.Settings == nil:
		return nil, fmt.Errorf("settings provider is required")
	case cfg.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	case cfg.Transcriber == nil:
		return nil, fmt.Errorf("transcriber is required")
	case cfg.Channel == nil:
		return nil, fmt.Errorf("channel is required")
	}

	r := &Router{
		store:                cfg.Store,
		settings:             cfg.Settings,
		generator:            cfg.Generator,
		transcriber:          cfg.Transcriber,
		channel:              cfg.Channel,
		pacer:                cfg.Pacer,
		dispatcher:           cfg.Dispatcher,
		logger:               slog.Default(),
		generationTimeout:    DefaultGenerationTimeout,
		transcriptionTimeout: DefaultTranscriptionTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pacer == nil {
		r.pacer = pacer.New(cfg.Channel, pacer.WithLogger(r.logger))
	}
	return r, nil
}

// Handle is the channel-facing handler. It queues the event behind earlier
// events of the same conversation and returns without waiting for it.
func (r *Router) Handle(ctx context.Context, ev channel.InboundEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if r.dispatcher == nil || ev.ConversationKey == "" {
		r.Process(ctx, ev)
		return
	}

	err := r.dispatcher.Submit(ev.ConversationKey, func(jobCtx context.Context) {
		r.Process(jobCtx, ev)
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to queue inbound event",
			slog.String("event_id", ev.ID),
			slog.String("conversation", ev.ConversationKey),
			slog.Any("error", err))
		r.record(StateReceived)
		r.record(StateSuppressed)
	}
}

// Process runs one event to a terminal state.
func (r *Router) Process(ctx context.Context, ev channel.InboundEvent) Outcome {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	t := &tracker{
		router: r,
		logger: r.logger.With(
			slog.String("event_id", ev.ID),
			slog.String("conversation", ev.ConversationKey)),
		state: StateReceived,
	}
	r.record(StateReceived)

	switch {
	case ev.ConversationKey == "":
		return t.finish(ctx, StateFilteredOut, "missing conversation key")
	case ev.IsGroup:
		return t.finish(ctx, StateFilteredOut, "group conversation")
	case ev.IsSelfSent:
		return t.finish(ctx, StateFilteredOut, "self-sent")
	}

	cfg := r.settings.Load(ctx)
	if !cfg.AutoReplyEnabled {
		return t.finish(ctx, StateFilteredOut, "auto-reply disabled")
	}

	t.to(ctx, StateClassified)

	switch {
	case ev.Kind == channel.KindAudio:
		if !r.channel.CanDownload(ev) {
			return t.finish(ctx, StateFilteredOut, "audio not downloadable")
		}
		t.to(ctx, StateAudioPath)
		return r.processAudio(ctx, t, ev, cfg)
	case ev.Kind == channel.KindText && strings.TrimSpace(ev.TextBody) != "":
		t.to(ctx, StateTextPath)
		return r.processText(ctx, t, ev, cfg, ev.TextBody)
	default:
		return t.finish(ctx, StateFilteredOut, "no text content")
	}
}

func (r *Router) processAudio(ctx context.Context, t *tracker, ev channel.InboundEvent, cfg settings.BehaviorSettings) Outcome {
	r.pacer.StartTyping(ctx, ev.ConversationKey)

	text, err := r.transcribe(ctx, ev)
	if ctx.Err() != nil {
		r.stopTyping(ctx, t, ev.ConversationKey)
		return t.finish(ctx, StateSuppressed, "canceled during transcription")
	}
	if err != nil {
		t.logger.WarnContext(ctx, "transcription failed",
			slog.Any("error", err),
			slog.Bool("unavailable", provider.IsUnavailable(err)))
	}
	if err != nil || strings.TrimSpace(text) == "" {
		return r.deliver(ctx, t, ev.ConversationKey, AudioFallbackReply, cfg.ResponseDelaySeconds)
	}

	t.to(ctx, StateTextPath)
	return r.processText(ctx, t, ev, cfg, text)
}

func (r *Router) transcribe(ctx context.Context, ev channel.InboundEvent) (string, error) {
	if r.transcriptionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.transcriptionTimeout)
		defer cancel()
	}

	audio, err := r.channel.DownloadMedia(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	return r.transcriber.Transcribe(ctx, provider.TranscribeRequest{
		Audio:    audio,
		MIMEType: ev.AudioMIMEType,
		Language: r.language,
	})
}

func (r *Router) processText(ctx context.Context, t *tracker, ev channel.InboundEvent, cfg settings.BehaviorSettings, text string) Outcome {
	key := ev.ConversationKey
	r.pacer.StartTyping(ctx, key)

	displayName := r.displayName(ctx, t, ev)
	var override *settings.ContactOverride
	if match, ok := cfg.MatchContact(displayName); ok {
		override = &match
		t.logger.DebugContext(ctx, "contact override matched",
			slog.String("pattern", match.Pattern))
	}
	systemPrompt := settings.RenderSystemPrompt(cfg, override, displayName)

	history, err := r.store.AppendAndTrim(ctx, key, conversation.Turn{
		Role:    conversation.RoleUser,
		Content: text,
	})
	if err != nil {
		r.stopTyping(ctx, t, key)
		t.logger.ErrorContext(ctx, "failed to store user turn", slog.Any("error", err))
		return t.finish(ctx, StateFailed, "store failure")
	}

	reply, err := r.generate(ctx, provider.GenerateRequest{
		SystemPrompt: systemPrompt,
		Turns:        history,
	})
	switch {
	case err == nil && strings.TrimSpace(reply) == "":
		t.logger.WarnContext(ctx, "generator returned an empty reply")
		reply = UnsupportedReply
	case provider.IsUnsupportedContent(err):
		t.logger.WarnContext(ctx, "generator returned unsupported content", slog.Any("error", err))
		reply = UnsupportedReply
	case err != nil:
		r.stopTyping(ctx, t, key)
		if ctx.Err() != nil {
			return t.finish(ctx, StateSuppressed, "canceled during generation")
		}
		t.logger.ErrorContext(ctx, "generation failed",
			slog.Any("error", err),
			slog.Bool("unavailable", provider.IsUnavailable(err)),
			slog.Bool("timeout", provider.IsTimeout(err)))
		return t.finish(ctx, StateFailed, "generation failed")
	}

	// The reply counts as given once decided, even if delivery fails below.
	if _, err := r.store.AppendAndTrim(ctx, key, conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: reply,
	}); err != nil {
		t.logger.ErrorContext(ctx, "failed to store assistant turn", slog.Any("error", err))
	}

	return r.deliver(ctx, t, key, reply, cfg.ResponseDelaySeconds)
}

func (r *Router) generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	if r.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.generationTimeout)
		defer cancel()
	}
	return r.generator.Generate(ctx, req)
}

func (r *Router) deliver(ctx context.Context, t *tracker, key, reply string, baseDelay int) Outcome {
	err := r.pacer.Deliver(ctx, key, reply, baseDelay)
	switch {
	case err == nil:
		return t.finish(ctx, StateReplied, "")
	case errors.Is(err, pacer.ErrTransport):
		t.logger.WarnContext(ctx, "reply delivery failed", slog.Any("error", err))
		return t.finish(ctx, StateReplied, "transport failure")
	default:
		r.stopTyping(ctx, t, key)
		return t.finish(ctx, StateSuppressed, "canceled before delivery")
	}
}

func (r *Router) displayName(ctx context.Context, t *tracker, ev channel.InboundEvent) string {
	if ev.ContactDisplayName != "" {
		return ev.ContactDisplayName
	}
	name, err := r.channel.DisplayName(ctx, ev.ConversationKey)
	if err != nil {
		t.logger.DebugContext(ctx, "contact name lookup failed", slog.Any("error", err))
		return ""
	}
	return name
}

// stopTyping clears the indicator even when ctx is already canceled.
func (r *Router) stopTyping(ctx context.Context, t *tracker, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := r.pacer.StopTyping(ctx, key); err != nil {
		t.logger.WarnContext(ctx, "failed to clear typing indicator", slog.Any("error", err))
	}
}

// Stats returns a snapshot of the event counters.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Router) record(state State) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	switch state {
	case StateReceived:
		r.stats.Received++
	case StateFilteredOut:
		r.stats.FilteredOut++
	case StateReplied:
		r.stats.Replied++
	case StateSuppressed:
		r.stats.Suppressed++
	case StateFailed:
		r.stats.Failed++
	}
}

// tracker follows one event through the state machine.
type tracker struct {
	router *Router
	logger *slog.Logger
	state  State
}

func (t *tracker) to(ctx context.Context, next State) {
	if !CanTransition(t.state, next) {
		t.logger.ErrorContext(ctx, "invalid state transition",
			slog.String("from", t.state.String()),
			slog.String("to", next.String()))
	}
	t.logger.DebugContext(ctx, "state transition",
		slog.String("from", t.state.String()),
		slog.String("to", next.String()))
	t.state = next
}

func (t *tracker) finish(ctx context.Context, terminal State, reason string) Outcome {
	t.to(ctx, terminal)
	t.router.record(terminal)

	level := slog.LevelInfo
	if terminal == StateFilteredOut {
		level = slog.LevelDebug
	}
	t.logger.Log(ctx, level, "event processed",
		slog.String("state", terminal.String()),
		slog.String("reason", reason))

	return Outcome{State: terminal, Reason: reason}
}
