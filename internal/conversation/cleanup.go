package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is the default interval at which idle conversations are dropped.
	DefaultCleanupInterval = 1 * time.Minute
)

// Expirer is a store that can drop idle conversations.
type Expirer interface {
	CleanupExpired() int
	Stats() Stats
}

// CleanupService periodically drops idle conversations from a store.
type CleanupService struct {
	store    Expirer
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// NewCleanupService creates a new cleanup service with default interval.
func NewCleanupService(store Expirer) *CleanupService {
	return NewCleanupServiceWithInterval(store, DefaultCleanupInterval)
}

// NewCleanupServiceWithInterval creates a new cleanup service with custom interval.
func NewCleanupServiceWithInterval(store Expirer, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupService{
		store:    store,
		interval: interval,
		logger:   slog.Default().With(slog.String("component", "conversation.cleanup")),
	}
}

// Start begins the periodic cleanup process.
func (c *CleanupService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.runCleanup(cleanupCtx, c.done)

	return nil
}

// Stop gracefully stops the cleanup service.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *CleanupService) runCleanup(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		close(done)
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.DebugContext(ctx, "cleanup service stopping")
			return
		case <-ticker.C:
			c.performCleanup(ctx)
		}
	}
}

func (c *CleanupService) performCleanup(ctx context.Context) {
	removed := c.store.CleanupExpired()
	stats := c.store.Stats()

	if removed > 0 {
		c.logger.InfoContext(ctx, "dropped idle conversations",
			slog.Int("removed", removed),
			slog.Int("remaining", stats.Conversations))
	}
}

// IsRunning returns whether the cleanup service is currently running.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
