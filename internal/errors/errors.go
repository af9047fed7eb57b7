package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping decisions.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidPath          Kind = "invalid_path"
	KindPermissionDenied     Kind = "permission_denied"
	KindConflict             Kind = "conflict"
	KindProviderAuthRequired Kind = "provider_auth_required"
	KindProviderTransient    Kind = "provider_transient"
	KindProviderFatal        Kind = "provider_fatal"
	KindExtractFailed        Kind = "extract_failed"
	KindEmbedFailed          Kind = "embed_failed"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Error is the structured error type for Lodestone.
// It carries a kind for dispatch, an optional cause for chains,
// and key-value details for logging.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind.
// This enables errors.Is() to work with *Error sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
// The retryable flag is derived from the kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryableKind(kind),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error from an existing error. Returns nil for nil.
// Wrapping an *Error of the same kind returns it unchanged.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	if le, ok := err.(*Error); ok && le.Kind == kind {
		return le
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     err,
		Retryable: retryableKind(kind),
	}
}

func retryableKind(kind Kind) bool {
	switch kind {
	case KindProviderTransient, KindStoreUnavailable, KindEmbedFailed:
		return true
	default:
		return false
	}
}

// KindOf extracts the kind from an error chain.
// Returns KindInternal for errors that carry no *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsCancelled reports whether the error chain carries a cancellation,
// either ours or context's. Cancellation is never reported to callers
// as a failure.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var le *Error
	if errors.As(err, &le) && le.Kind == KindCancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Is and As re-export the stdlib helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
