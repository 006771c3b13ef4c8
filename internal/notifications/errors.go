package notifications

import "errors"

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// Dispatch errors.
var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNoEligibleChannel = errors.New("no eligible channel for recipient")
	ErrInvalidPriority   = errors.New("invalid priority")
)

// Retry errors.
var (
	ErrRetryInProgress  = errors.New("retry already in progress")
	ErrNotRetryEligible = errors.New("notification is not eligible for retry")
)
