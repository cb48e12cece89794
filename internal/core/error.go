/*
Package core provides the de-obfuscation engine of blockcrack: the record model,
the merge reducer, the candidate generator, the parallel search coordinator and
the crack loop that checkpoints every recovered domain.
*/
package core

import (
	"errors"
	"fmt"
)

// customError is an error type that includes a retryable flag.
// This allows components to determine if an operation that resulted in this error
// should be retried.
type customError struct {
	message   string // The error message.
	retryable bool   // True if retrying may succeed.
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable reports whether the error is designated as retryable.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable is a helper to check whether err (or anything it wraps) is a
// retryable *customError. Unknown error types are treated as non-retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// Common error values used within the core package.
var (
	// ErrQueueFull indicates that a worker's queue is at capacity.
	// Retryable: the queue drains as the worker makes progress.
	ErrQueueFull = NewError("queue full", true)
	// ErrSchedulerShutdown indicates the scheduler no longer accepts work.
	ErrSchedulerShutdown = NewError("scheduler shutting down", false)

	// ErrDigestEncoding is wrapped by ValidationError when a digest is not valid hex.
	ErrDigestEncoding = errors.New("digest is not valid hex")
	// ErrDigestLength is wrapped by ValidationError when a digest does not decode to 32 bytes.
	ErrDigestLength = errors.New("digest is not 32 bytes")
	// ErrMaskTooLong is wrapped by ConfigurationError when a mask exceeds the candidate buffer.
	ErrMaskTooLong = errors.New("mask exceeds candidate buffer")
)

// ValidationError reports a block-list entry that cannot become a Record.
// It is scoped to one entry; callers skip the entry and continue.
type ValidationError struct {
	Source string // Instance the entry came from, if known.
	Digest string // The raw digest text as published.
	Err    error  // Wraps ErrDigestEncoding or ErrDigestLength.
}

func (e *ValidationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("invalid entry from %s (digest %q): %v", e.Source, e.Digest, e.Err)
	}
	return fmt.Sprintf("invalid entry (digest %q): %v", e.Digest, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError reports a search precondition violation.
// It aborts the current crack run: such input points at corrupt upstream data.
type ConfigurationError struct {
	Mask   string
	Length int
	Limit  int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mask %q has length %d, candidate buffer holds %d: %v", e.Mask, e.Length, e.Limit, ErrMaskTooLong)
}

func (e *ConfigurationError) Unwrap() error { return ErrMaskTooLong }
