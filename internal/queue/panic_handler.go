package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// PanicHandler is told about jobs that panicked. The dispatcher keeps
// draining the conversation after the handler returns.
type PanicHandler interface {
	HandlePanic(err *PanicError, stackTrace []byte)
}

// DefaultPanicHandler logs panics with stack traces.
type DefaultPanicHandler struct {
	logger *slog.Logger
}

// NewDefaultPanicHandler returns the default panic handler.
func NewDefaultPanicHandler(logger *slog.Logger) *DefaultPanicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultPanicHandler{logger: logger}
}

// HandlePanic logs the panic with its stack trace.
func (h *DefaultPanicHandler) HandlePanic(err *PanicError, stackTrace []byte) {
	h.logger.ErrorContext(context.Background(), "PANIC in conversation job",
		slog.String("conversation", err.ConversationKey),
		slog.Any("panic", err.Value),
		slog.String("stack_trace", string(stackTrace)))
}

// MetricsPanicHandler counts panics before delegating.
type MetricsPanicHandler struct {
	wrapped PanicHandler
	onPanic func(conversationKey string, panicValue any)
}

// NewMetricsPanicHandler wraps another handler to add metrics tracking.
func NewMetricsPanicHandler(wrapped PanicHandler, onPanic func(string, any)) *MetricsPanicHandler {
	return &MetricsPanicHandler{
		wrapped: wrapped,
		onPanic: onPanic,
	}
}

// HandlePanic calls the metrics callback and delegates to the wrapped handler.
func (h *MetricsPanicHandler) HandlePanic(err *PanicError, stackTrace []byte) {
	if h.onPanic != nil {
		h.onPanic(err.ConversationKey, err.Value)
	}
	if h.wrapped != nil {
		h.wrapped.HandlePanic(err, stackTrace)
	}
}

// handleRecoveredPanic builds the PanicError for a recovered value and hands
// it to handler.
func handleRecoveredPanic(conversationKey string, panicValue any, handler PanicHandler) *PanicError {
	err := &PanicError{ConversationKey: conversationKey, Value: panicValue}
	if handler == nil {
		handler = NewDefaultPanicHandler(nil)
	}
	handler.HandlePanic(err, debug.Stack())
	return err
}
