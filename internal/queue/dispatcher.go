// Package queue serializes work per conversation. Jobs that share a
// conversation key run one at a time in submission order; jobs for
// different keys run concurrently, bounded by a shared limit.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxConcurrent bounds how many conversations are processed at once.
const DefaultMaxConcurrent = 8

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Enqueued            int64 `json:"enqueued"`
	Completed           int64 `json:"completed"`
	Panicked            int64 `json:"panicked"`
	Dropped             int64 `json:"dropped"`
	ActiveConversations int   `json:"active_conversations"`
	Pending             int   `json:"pending"`
}

// Dispatcher runs jobs keyed by conversation.
type Dispatcher struct {
	ctx          context.Context
	cancel       context.CancelFunc
	queues       map[string]*ConversationQueue
	sem          chan struct{}
	panicHandler PanicHandler
	logger       *slog.Logger
	wg           sync.WaitGroup
	enqueued     atomic.Int64
	completed    atomic.Int64
	panicked     atomic.Int64
	dropped      atomic.Int64
	mu           sync.Mutex
	stopped      bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMaxConcurrent bounds the number of conversations processed at once.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithPanicHandler replaces the default panic handler.
func WithPanicHandler(handler PanicHandler) Option {
	return func(d *Dispatcher) {
		d.panicHandler = handler
	}
}

// NewDispatcher creates a dispatcher. Jobs receive a context derived from
// ctx that is canceled when ctx ends or a shutdown times out.
func NewDispatcher(ctx context.Context, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queues: make(map[string]*ConversationQueue),
		sem:    make(chan struct{}, DefaultMaxConcurrent),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.panicHandler == nil {
		d.panicHandler = NewDefaultPanicHandler(d.logger)
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	return d
}

// Submit queues job behind any earlier jobs for conversationKey. It never
// blocks on the job itself.
func (d *Dispatcher) Submit(conversationKey string, job Job) error {
	if conversationKey == "" {
		return ErrEmptyKey
	}
	if job == nil {
		return fmt.Errorf("cannot submit nil job")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrQueueStopped
	}

	q, exists := d.queues[conversationKey]
	if !exists {
		q = NewConversationQueue(conversationKey)
		d.queues[conversationKey] = q
	}
	q.Enqueue(job)
	d.enqueued.Add(1)

	if !exists {
		d.wg.Add(1)
		go d.drain(conversationKey, q)
	}
	return nil
}

// drain runs the jobs of one conversation until its queue is empty. The
// queue is removed under d.mu so a concurrent Submit starts a new drainer.
func (d *Dispatcher) drain(conversationKey string, q *ConversationQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		job, ok := q.Dequeue()
		if !ok {
			delete(d.queues, conversationKey)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		if d.ctx.Err() != nil {
			d.dropped.Add(1)
			d.logger.WarnContext(d.ctx, "dropping queued job after shutdown",
				slog.String("conversation", conversationKey))
		} else {
			d.run(conversationKey, job)
		}
		q.Complete()
	}
}

func (d *Dispatcher) run(conversationKey string, job QueuedJob) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			handleRecoveredPanic(conversationKey, r, d.panicHandler)
		}
	}()

	if wait := time.Since(job.EnqueuedAt); wait > time.Second {
		d.logger.DebugContext(d.ctx, "job waited in queue",
			slog.String("conversation", conversationKey),
			slog.Duration("wait", wait))
	}

	job.Run(d.ctx)
	d.completed.Add(1)
}

// Shutdown stops accepting jobs and waits for queued work to finish. If ctx
// ends first, running jobs are canceled, the rest are dropped and
// ErrShutdownTimeout is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	active := len(d.queues)
	pending := 0
	for _, q := range d.queues {
		pending += q.Size()
	}
	d.mu.Unlock()

	return Stats{
		Enqueued:            d.enqueued.Load(),
		Completed:           d.completed.Load(),
		Panicked:            d.panicked.Load(),
		Dropped:             d.dropped.Load(),
		ActiveConversations: active,
		Pending:             pending,
	}
}
