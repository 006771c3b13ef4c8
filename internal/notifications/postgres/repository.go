// Package postgres provides PostgreSQL implementation of the notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

// Each delivery channel maps to a quartet of columns. A NULL sent column
// means the channel was never eligible for the record; FALSE with an
// empty error means not attempted yet; FALSE with an error means failed;
// TRUE means delivered. The permanent column marks failures that must
// not be re-attempted.
var channelColumns = map[domain.ChannelType][4]string{
	domain.ChannelTypeRealtime: {"realtime_sent", "realtime_sent_at", "realtime_error", "realtime_permanent"},
	domain.ChannelTypeEmail:    {"email_sent", "email_sent_at", "email_error", "email_permanent"},
	domain.ChannelTypeWebhook:  {"webhook_sent", "webhook_sent_at", "webhook_error", "webhook_permanent"},
	domain.ChannelTypePush:     {"push_sent", "push_sent_at", "push_error", "push_permanent"},
}

const anyChannelFailed = `(
		(realtime_sent = FALSE AND realtime_error <> '') OR
		(email_sent = FALSE AND email_error <> '') OR
		(webhook_sent = FALSE AND webhook_error <> '') OR
		(push_sent = FALSE AND push_error <> '')
	)`

const fullyDelivered = `(
		COALESCE(realtime_sent, TRUE) AND
		COALESCE(email_sent, TRUE) AND
		COALESCE(webhook_sent, TRUE) AND
		COALESCE(push_sent, TRUE)
	)`

const priorityOrder = `CASE priority
		WHEN 'urgent' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		ELSE 1
	END`

const notificationColumns = `
		id, recipient, type, title, message, data, priority,
		realtime_sent, realtime_sent_at, realtime_error, realtime_permanent,
		email_sent, email_sent_at, email_error, email_permanent,
		webhook_sent, webhook_sent_at, webhook_error, webhook_permanent,
		push_sent, push_sent_at, push_error, push_permanent,
		retry_count, next_retry_at, is_retrying,
		escalated, escalated_at, is_read, created_at, updated_at`

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a new notification record.
func (r *Repository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
	`
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}

	args := []any{
		n.ID, n.Recipient, n.Type, n.Title, n.Message, data, n.Priority,
	}
	for _, ch := range domain.AllChannelTypes {
		sent, sentAt, errStr, permanent := channelValues(n, ch)
		args = append(args, sent, sentAt, errStr, permanent)
	}
	args = append(args,
		n.RetryCount, n.NextRetryAt, n.IsRetrying,
		n.Escalated, n.EscalatedAt, n.IsRead, n.CreatedAt, n.UpdatedAt,
	)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE id = $1
	`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListByRecipient retrieves a recipient's notifications ordered by
// priority weight, then recency.
func (r *Repository) ListByRecipient(ctx context.Context, recipient string, limit, offset int) ([]domain.Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE recipient = $1
		ORDER BY ` + priorityOrder + ` DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, recipient, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// UpdateChannelState writes one channel's delivery state on a record.
func (r *Repository) UpdateChannelState(ctx context.Context, id string, channel domain.ChannelType, state domain.ChannelState) error {
	cols, ok := channelColumns[channel]
	if !ok {
		return fmt.Errorf("unknown channel type: %s", channel)
	}

	query := fmt.Sprintf(`
		UPDATE notifications
		SET %s = $2, %s = $3, %s = $4, %s = $5, updated_at = NOW()
		WHERE id = $1
	`, cols[0], cols[1], cols[2], cols[3])

	tag, err := r.db.Exec(ctx, query, id, state.Sent, state.SentAt, state.Error, state.Permanent)
	if err != nil {
		return fmt.Errorf("update channel state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// MarkRead flags a notification as read by its recipient.
func (r *Repository) MarkRead(ctx context.Context, id, recipient string) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, updated_at = NOW()
		WHERE id = $1 AND recipient = $2
	`
	tag, err := r.db.Exec(ctx, query, id, recipient)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// UnreadCount counts a recipient's unread notifications.
func (r *Repository) UnreadCount(ctx context.Context, recipient string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient = $1 AND is_read = FALSE`

	var count int
	if err := r.db.QueryRow(ctx, query, recipient).Scan(&count); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// ListRetryCandidates finds records due for a retry cycle: at least one
// failed channel, retries not exhausted, not escalated, not currently
// claimed, within the retry window, and past their backoff deadline.
// Delivery failure notifications are never candidates. Records whose
// failures are all permanent still match; the scheduler escalates those
// instead of re-attempting them.
func (r *Repository) ListRetryCandidates(ctx context.Context, q notifications.RetryQuery) ([]*domain.Notification, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE type <> $1
		  AND escalated = FALSE
		  AND is_retrying = FALSE
		  AND retry_count < $2
		  AND created_at > $3
		  AND (next_retry_at IS NULL OR next_retry_at <= $4)
		  AND ` + anyChannelFailed + `
		ORDER BY ` + priorityOrder + ` DESC, created_at ASC
		LIMIT $5
	`
	rows, err := r.db.Query(ctx, query,
		domain.TypeDeliveryFailure,
		q.MaxRetries,
		q.Now.Add(-q.MaxAge),
		q.Now,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list retry candidates: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retry candidate: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ClaimRetry atomically claims a record for one retry cycle. It returns
// false when the record is already claimed, escalated, or gone.
func (r *Repository) ClaimRetry(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE notifications
		SET is_retrying = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_retrying = FALSE AND escalated = FALSE
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FinishRetry releases the claim and records the cycle's outcome.
func (r *Repository) FinishRetry(ctx context.Context, id string, retryCount int, nextRetryAt *time.Time) error {
	query := `
		UPDATE notifications
		SET is_retrying = FALSE, retry_count = $2, next_retry_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, retryCount, nextRetryAt); err != nil {
		return fmt.Errorf("finish retry: %w", err)
	}
	return nil
}

// ReleaseRetry releases the claim without advancing the retry count.
func (r *Repository) ReleaseRetry(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET is_retrying = FALSE, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release retry: %w", err)
	}
	return nil
}

// MarkEscalated flips the escalation markers once. It returns false when
// the record was already escalated.
func (r *Repository) MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET escalated = TRUE, escalated_at = $2, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND escalated = FALSE
	`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteTerminal deletes records created before cutoff that will never
// be processed again.
func (r *Repository) DeleteTerminal(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE created_at < $1
		  AND (escalated = TRUE OR retry_count >= $2 OR ` + fullyDelivered + `)
	`
	tag, err := r.db.Exec(ctx, query, cutoff, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("delete terminal notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts notifications by state.
func (r *Repository) Stats(ctx context.Context) (*notifications.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE escalated = FALSE AND ` + anyChannelFailed + `),
			COUNT(*) FILTER (WHERE escalated = TRUE),
			COUNT(*) FILTER (WHERE is_read = FALSE)
		FROM notifications
	`
	var stats notifications.Stats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Total,
		&stats.PendingRetry,
		&stats.Escalated,
		&stats.Unread,
	)
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	return &stats, nil
}

// channelValues flattens one channel's state for insertion. A channel
// absent from the record maps to NULL sent, sent-at and error columns.
func channelValues(n *domain.Notification, ch domain.ChannelType) (*bool, *time.Time, *string, bool) {
	state, ok := n.Channels[ch]
	if !ok || state == nil {
		return nil, nil, nil, false
	}
	return &state.Sent, state.SentAt, &state.Error, state.Permanent
}

// scanNotification reads one notification row, materializing channel
// states only for channels whose columns are non-NULL.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n         domain.Notification
		sent      [4]*bool
		sentAt    [4]*time.Time
		sendErr   [4]*string
		permanent [4]bool
	)

	err := row.Scan(
		&n.ID, &n.Recipient, &n.Type, &n.Title, &n.Message, &n.Data, &n.Priority,
		&sent[0], &sentAt[0], &sendErr[0], &permanent[0],
		&sent[1], &sentAt[1], &sendErr[1], &permanent[1],
		&sent[2], &sentAt[2], &sendErr[2], &permanent[2],
		&sent[3], &sentAt[3], &sendErr[3], &permanent[3],
		&n.RetryCount, &n.NextRetryAt, &n.IsRetrying,
		&n.Escalated, &n.EscalatedAt, &n.IsRead, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Channels = make(map[domain.ChannelType]*domain.ChannelState)
	for i, ch := range domain.AllChannelTypes {
		if sent[i] == nil {
			continue
		}
		state := &domain.ChannelState{Sent: *sent[i], SentAt: sentAt[i], Permanent: permanent[i]}
		if sendErr[i] != nil {
			state.Error = *sendErr[i]
		}
		n.Channels[ch] = state
	}

	return &n, nil
}
