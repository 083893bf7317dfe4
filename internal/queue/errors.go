package queue

import (
	"errors"
	"fmt"
)

// Common queue errors.
var (
	// ErrQueueStopped indicates the dispatcher no longer accepts work.
	ErrQueueStopped = errors.New("queue stopped")

	// ErrEmptyKey indicates a job was submitted without a conversation key.
	ErrEmptyKey = errors.New("conversation key cannot be empty")

	// ErrShutdownTimeout indicates in-flight jobs did not finish in time.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// PanicError describes a job that panicked.
type PanicError struct {
	Value           any
	ConversationKey string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("job for conversation %s panicked: %v", e.ConversationKey, e.Value)
}

// IsPanicError reports whether err is, or wraps, a PanicError.
func IsPanicError(err error) bool {
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}
