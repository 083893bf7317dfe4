package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the provider is not configured (for example a
	// missing API key).
	ErrUnavailable = errors.New("provider unavailable")

	// ErrUnsupportedContent indicates the provider replied with something
	// other than plain text.
	ErrUnsupportedContent = errors.New("unsupported reply content")
)

// Kind classifies a provider error.
type Kind int

const (
	// KindFailure is a transient call failure (network, rate limit, bad response).
	KindFailure Kind = iota
	// KindUnavailable is missing credentials or configuration.
	KindUnavailable
	// KindUnsupported is a non-text reply.
	KindUnsupported
	// KindTimeout is a call that exceeded its deadline.
	KindTimeout
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindUnsupported:
		return "unsupported"
	case KindTimeout:
		return "timeout"
	default:
		return "failure"
	}
}

// Error describes a failed provider call.
type Error struct {
	Err      error
	Provider string
	Op       string
	Kind     Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the taxonomy sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrUnsupportedContent:
		return e.Kind == KindUnsupported
	}
	return false
}

// NewError wraps err, classifying context deadline errors as timeouts.
func NewError(providerName, op string, kind Kind, err error) *Error {
	if kind == KindFailure && errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Provider: providerName, Op: op, Kind: kind, Err: err}
}

// IsUnavailable reports whether err means the provider is not configured.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsUnsupportedContent reports whether err means the reply was not plain text.
func IsUnsupportedContent(err error) bool {
	return errors.Is(err, ErrUnsupportedContent)
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == KindTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}
