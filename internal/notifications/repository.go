// Package notifications implements multi-channel notification delivery:
// a dispatcher fanning out to channel senders, a retry scheduler with
// exponential backoff, an escalation policy for exhausted records, and a
// cleanup sweeper for stale terminal ones.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// Repository defines the interface for notification persistence.
// Every mutation is scoped to a single record by id.
type Repository interface {
	// Record lifecycle
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, recipient string, limit, offset int) ([]domain.Notification, error)

	// Per-channel delivery state. Applied as a structured update on the
	// named channel's fields of the owning record, never string paths.
	UpdateChannelState(ctx context.Context, id string, channel domain.ChannelType, state domain.ChannelState) error

	// Read flag
	MarkRead(ctx context.Context, id, recipient string) error
	UnreadCount(ctx context.Context, recipient string) (int, error)

	// Retry bookkeeping. ClaimRetry is an atomic conditional update: it
	// returns false when another cycle already holds the record.
	ListRetryCandidates(ctx context.Context, q RetryQuery) ([]*domain.Notification, error)
	ClaimRetry(ctx context.Context, id string) (bool, error)
	FinishRetry(ctx context.Context, id string, retryCount int, nextRetryAt *time.Time) error
	ReleaseRetry(ctx context.Context, id string) error

	// MarkEscalated flips the terminal escalation markers; it returns
	// false when the record was already escalated.
	MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error)

	// DeleteTerminal removes records created before cutoff that are
	// terminal: escalated, retries exhausted, or fully delivered.
	DeleteTerminal(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error)

	// Stats feeds the state gauges.
	Stats(ctx context.Context) (*Stats, error)
}

// RetryQuery bounds one retry-candidate scan.
type RetryQuery struct {
	MaxRetries int
	MaxAge     time.Duration
	Limit      int
	Now        time.Time
}

// Stats holds notification counts by state.
type Stats struct {
	Total        int64
	PendingRetry int64
	Escalated    int64
	Unread       int64
}

// RecipientDirectory resolves recipient identities to delivery
// configuration. Implemented by the directory module; product systems can
// substitute their own.
type RecipientDirectory interface {
	Resolve(ctx context.Context, recipientID string) (*domain.RecipientProfile, error)
	Operators(ctx context.Context) ([]domain.RecipientProfile, error)
}
