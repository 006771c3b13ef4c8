package notifications

import (
	"context"
	"errors"

	"github.com/bissquit/task-garden/internal/domain"
)

// Delivery is the rendered payload handed to a channel sender.
type Delivery struct {
	// Profile carries the recipient's resolved delivery configuration
	// (email address, webhook URL, and so on).
	Profile *domain.RecipientProfile

	// Notification is the record being delivered. Senders must treat it
	// as read-only.
	Notification *domain.Notification

	Subject  string
	Body     string
	HTMLBody string
}

// Sender delivers a notification over one channel.
//
// Senders report failures as error values; they never panic past their
// boundary. Errors implementing IsRetryable() bool control whether the
// failure is retry-eligible; anything else defaults to retryable.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, delivery Delivery) error
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
