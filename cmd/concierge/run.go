package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Veraticus/concierge/internal/api"
	"github.com/Veraticus/concierge/internal/config"
	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/pacer"
	"github.com/Veraticus/concierge/internal/provider"
	"github.com/Veraticus/concierge/internal/provider/claude"
	"github.com/Veraticus/concierge/internal/provider/gemini"
	"github.com/Veraticus/concierge/internal/provider/whisper"
	"github.com/Veraticus/concierge/internal/queue"
	"github.com/Veraticus/concierge/internal/registry"
	"github.com/Veraticus/concierge/internal/router"
	"github.com/Veraticus/concierge/internal/settings"
	signalpkg "github.com/Veraticus/concierge/internal/signal"
)

// configureRetryInterval spaces configure-on-start attempts while signal-cli
// is unreachable.
const configureRetryInterval = 5 * time.Second

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.InfoContext(ctx, "concierge starting", slog.String("account", cfg.Signal.Account))

	deps, err := defaultDependencies(ctx, cfg)
	if err != nil {
		return err
	}

	c, err := initializeComponents(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}

	startComponents(ctx, c)
	logger.InfoContext(ctx, "concierge started")

	<-ctx.Done()

	// The parent context is done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx, c)
}

// components holds everything run starts and stops.
type components struct {
	cfg    config.Config
	logger *slog.Logger

	store      conversation.Store
	storeStats api.StoreStatsFunc
	closeStore func() error
	cleanup    *conversation.CleanupService

	channel    *signalpkg.Channel
	dispatcher *queue.Dispatcher
	router     *router.Router
	registry   *registry.Registry
	server     *echo.Echo

	// background outlives the signal context so queued replies can still be
	// sent while shutting down.
	background       context.Context
	cancelBackground context.CancelFunc

	wg sync.WaitGroup
}

// dependencies are the outward-facing collaborators run wires in. Tests
// substitute fakes.
type dependencies struct {
	dial        signalpkg.Dialer
	generator   provider.Generator
	transcriber provider.Transcriber
}

func defaultDependencies(ctx context.Context, cfg config.Config) (dependencies, error) {
	generator, err := buildGenerator(ctx, cfg)
	if err != nil {
		return dependencies{}, err
	}
	return dependencies{
		dial:        signalpkg.UnixDialer(cfg.Signal.Socket),
		generator:   generator,
		transcriber: whisper.New(whisper.Config{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.Transcription.Model,
			Language: cfg.Transcription.Language,
			Timeout:  cfg.Transcription.Timeout,
		}),
	}, nil
}

func initializeComponents(ctx context.Context, cfg config.Config, logger *slog.Logger, deps dependencies) (*components, error) {
	c := &components{cfg: cfg, logger: logger}
	c.background, c.cancelBackground = context.WithCancel(context.WithoutCancel(ctx))

	if err := c.buildStore(); err != nil {
		c.cancelBackground()
		return nil, err
	}

	c.channel = signalpkg.NewChannel(
		deps.dial,
		cfg.Signal.Account,
		signalpkg.WithLogger(logger),
	)

	c.dispatcher = queue.NewDispatcher(c.background,
		queue.WithLogger(logger),
		queue.WithMaxConcurrent(cfg.MaxConcurrent),
		queue.WithPanicHandler(queue.NewDefaultPanicHandler(logger)),
	)

	var err error
	c.router, err = router.New(router.Config{
		Store:       c.store,
		Settings:    settings.NewFileProvider(cfg.Settings.Path, settings.WithLogger(logger)),
		Generator:   deps.generator,
		Transcriber: deps.transcriber,
		Channel:     c.channel,
		Pacer:       pacer.New(c.channel, pacer.WithLogger(logger)),
		Dispatcher:  c.dispatcher,
	},
		router.WithLogger(logger),
		router.WithGenerationTimeout(cfg.Generation.Timeout),
		router.WithTranscriptionTimeout(cfg.Transcription.Timeout),
		router.WithLanguage(cfg.Transcription.Language),
	)
	if err != nil {
		c.cancelBackground()
		_ = c.closeStore()
		return nil, fmt.Errorf("build router: %w", err)
	}

	c.registry = registry.New(c.channel, c.router.Handle, registry.WithLogger(logger))

	handler := api.NewHandler(api.Deps{
		Registry:    c.registry,
		Channel:     c.channel,
		RouterStats: c.router.Stats,
		QueueStats:  c.dispatcher.Stats,
		StoreStats:  c.storeStats,
	}, logger)
	c.server = api.NewServer(handler, logger)

	return c, nil
}

func (c *components) buildStore() error {
	switch c.cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := conversation.NewSQLiteStore(c.cfg.Store.Path, c.cfg.Store.Window)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
		c.store = store
		c.storeStats = store.Stats
		c.closeStore = store.Close
	default:
		store := conversation.NewMemoryStore(
			conversation.WithWindow(c.cfg.Store.Window),
			conversation.WithMaxConversations(c.cfg.Store.MaxConversations),
			conversation.WithIdleTTL(c.cfg.Store.IdleTTL),
		)
		c.store = store
		c.storeStats = func(context.Context) (conversation.Stats, error) {
			return store.Stats(), nil
		}
		c.closeStore = func() error { return nil }
		if c.cfg.Store.IdleTTL > 0 {
			c.cleanup = conversation.NewCleanupService(store)
		}
	}
	return nil
}

func buildGenerator(ctx context.Context, cfg config.Config) (provider.Generator, error) {
	switch cfg.Generation.Provider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.Generation.Model,
			Timeout:   cfg.Generation.Timeout,
			MaxTokens: cfg.Generation.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("build gemini generator: %w", err)
		}
		return p, nil
	case config.ProviderAnthropic:
		return claude.NewClient(claude.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.Generation.Model,
			Timeout:   cfg.Generation.Timeout,
			MaxTokens: cfg.Generation.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Generation.Provider)
	}
}

func startComponents(ctx context.Context, c *components) {
	if c.cleanup != nil {
		_ = c.cleanup.Start(c.background)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.InfoContext(ctx, "starting signal channel", slog.String("socket", c.cfg.Signal.Socket))
		if err := c.channel.Run(c.background); err != nil {
			c.logger.ErrorContext(ctx, "signal channel stopped", slog.Any("error", err))
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.InfoContext(ctx, "starting api server", slog.String("listen", c.cfg.API.Listen))
		if err := api.Serve(ctx, c.server, c.cfg.API.Listen); err != nil {
			c.logger.ErrorContext(ctx, "api server stopped", slog.Any("error", err))
		}
	}()

	if c.cfg.ConfigureOnStart {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			configureOnStart(ctx, c.registry, c.logger, configureRetryInterval)
		}()
	}
}

// configureOnStart subscribes the router once signal-cli is reachable.
func configureOnStart(ctx context.Context, r *registry.Registry, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := r.Configure(ctx)
		if err == nil {
			logger.InfoContext(ctx, "bot configured on start",
				slog.String("subscription", res.SubscriptionID),
				slog.Bool("already_configured", res.AlreadyConfigured))
			return
		}
		if !errors.Is(err, registry.ErrNotConnected) {
			logger.ErrorContext(ctx, "configure on start failed", slog.Any("error", err))
			return
		}
		logger.DebugContext(ctx, "signal-cli not reachable yet, retrying configure")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shutdown stops intake first, then drains queued replies while the channel
// is still connected, and finally closes the channel and the store.
func shutdown(ctx context.Context, c *components) error {
	c.logger.InfoContext(ctx, "shutting down")

	var errs []error
	if err := c.registry.Revoke(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain queue: %w", err))
	}
	if c.cleanup != nil {
		c.cleanup.Stop()
	}

	c.cancelBackground()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for components: %w", ctx.Err()))
	}

	if err := c.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.ErrorContext(ctx, "shutdown finished with errors", slog.Any("error", err))
		return err
	}
	c.logger.InfoContext(ctx, "shutdown complete")
	return nil
}
