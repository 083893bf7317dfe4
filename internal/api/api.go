// Package api exposes the operator HTTP endpoints used to configure the bot
// and inspect its state.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Veraticus/concierge/internal/conversation"
	"github.com/Veraticus/concierge/internal/queue"
	"github.com/Veraticus/concierge/internal/registry"
	"github.com/Veraticus/concierge/internal/router"
)

// Configurator installs and removes the bot's channel subscription.
type Configurator interface {
	Configure(ctx context.Context) (registry.Result, error)
	IsConfigured() bool
	Revoke(ctx context.Context) error
}

// Connectivity reports whether the messaging channel is reachable.
type Connectivity interface {
	Connected(ctx context.Context) bool
}

// StoreStatsFunc reports conversation store usage.
type StoreStatsFunc func(ctx context.Context) (conversation.Stats, error)

// Deps are the components the API reports on. Only Registry is required.
type Deps struct {
	Registry    Configurator
	Channel     Connectivity
	RouterStats func() router.Stats
	QueueStats  func() queue.Stats
	StoreStats  StoreStatsFunc
}

// Handler serves the operator endpoints.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes mounts the endpoints on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	bot := e.Group("/api/bot")
	bot.POST("/configure", h.Configure)
	bot.DELETE("/configure", h.Revoke)
	bot.GET("/status", h.Status)
}

// ConfigureResponse is the body of POST /api/bot/configure.
type ConfigureResponse struct {
	Reason            string `json:"reason,omitempty"`
	SubscriptionID    string `json:"subscription_id,omitempty"`
	Success           bool   `json:"success"`
	AlreadyConfigured bool   `json:"already_configured"`
}

// Configure subscribes the bot to the channel.
// POST /api/bot/configure
func (h *Handler) Configure(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.deps.Registry.Configure(ctx)
	switch {
	case errors.Is(err, registry.ErrNotConnected):
		return c.JSON(http.StatusServiceUnavailable, ConfigureResponse{Reason: "NOT_CONNECTED"})
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to configure bot", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ConfigureResponse{Reason: "INTERNAL"})
	}

	return c.JSON(http.StatusOK, ConfigureResponse{
		Success:           true,
		AlreadyConfigured: res.AlreadyConfigured,
		SubscriptionID:    res.SubscriptionID,
	})
}

// Revoke unsubscribes the bot.
// DELETE /api/bot/configure
func (h *Handler) Revoke(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.deps.Registry.Revoke(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to revoke bot subscription", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "reason": "INTERNAL"})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// StatusResponse is the body of GET /api/bot/status.
type StatusResponse struct {
	Router     *router.Stats       `json:"router,omitempty"`
	Queue      *queue.Stats        `json:"queue,omitempty"`
	Store      *conversation.Stats `json:"store,omitempty"`
	StoreError string              `json:"store_error,omitempty"`
	Configured bool                `json:"configured"`
	Connected  bool                `json:"connected"`
}

// Status reports configuration, connectivity and counters.
// GET /api/bot/status
func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	resp := StatusResponse{Configured: h.deps.Registry.IsConfigured()}
	if h.deps.Channel != nil {
		resp.Connected = h.deps.Channel.Connected(ctx)
	}
	if h.deps.RouterStats != nil {
		stats := h.deps.RouterStats()
		resp.Router = &stats
	}
	if h.deps.QueueStats != nil {
		stats := h.deps.QueueStats()
		resp.Queue = &stats
	}
	if h.deps.StoreStats != nil {
		stats, err := h.deps.StoreStats(ctx)
		if err != nil {
			resp.StoreError = err.Error()
		} else {
			resp.Store = &stats
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Health reports that the process is alive.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// NewServer builds an echo instance with the handler's routes.
func NewServer(h *Handler, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.LogAttrs(c.Request().Context(), slog.LevelDebug, "http request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))

	h.RegisterRoutes(e)
	return e
}

// Serve runs e on addr until ctx ends, then shuts it down.
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}
