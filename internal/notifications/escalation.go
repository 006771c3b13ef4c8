package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// Escalator notifies operators about notifications whose retries are
// exhausted while at least one channel still fails.
type Escalator struct {
	repo       Repository
	directory  RecipientDirectory
	dispatcher *Dispatcher
}

// NewEscalator creates a new escalator.
func NewEscalator(repo Repository, directory RecipientDirectory, dispatcher *Dispatcher) *Escalator {
	return &Escalator{
		repo:       repo,
		directory:  directory,
		dispatcher: dispatcher,
	}
}

// Escalate marks a notification as escalated and sends an urgent delivery
// failure notification to every operator. The escalation markers are
// flipped atomically, so concurrent callers produce exactly one round of
// operator notifications. Delivery failure notifications themselves are
// never escalated, which keeps a failing operator channel from feeding
// back into the escalator.
func (e *Escalator) Escalate(ctx context.Context, n *domain.Notification) error {
	if n.Type == domain.TypeDeliveryFailure {
		return nil
	}

	// Operators are resolved before the terminal marker flips: a directory
	// failure leaves the record un-escalated so a later pass can try again,
	// instead of marking it with no operator ever notified.
	operators, err := e.directory.Operators(ctx)
	if err != nil {
		return fmt.Errorf("list operators: %w", err)
	}

	marked, err := e.repo.MarkEscalated(ctx, n.ID, time.Now())
	if err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	if !marked {
		// Already escalated by an earlier cycle.
		return nil
	}

	escalations.Inc()

	if len(operators) == 0 {
		slog.Warn("notification escalated but no operators configured", "notification_id", n.ID)
		return nil
	}

	failed := n.FailedChannels()
	failedNames := make([]string, len(failed))
	for i, ch := range failed {
		failedNames[i] = string(ch)
	}

	data := map[string]string{
		"original_id":        n.ID,
		"original_recipient": n.Recipient,
		"original_type":      string(n.Type),
		"failed_channels":    strings.Join(failedNames, ","),
		"retry_count":        strconv.Itoa(n.RetryCount),
	}

	title := fmt.Sprintf("Delivery failed: %s", n.Title)
	message := fmt.Sprintf(
		"Notification %s for recipient %s could not be delivered on %s after %d retries.",
		n.ID, n.Recipient, strings.Join(failedNames, ", "), n.RetryCount,
	)

	for _, op := range operators {
		_, err := e.dispatcher.Send(ctx, SendRequest{
			Recipient: op.ID,
			Type:      domain.TypeDeliveryFailure,
			Title:     title,
			Message:   message,
			Data:      data,
			Priority:  domain.PriorityUrgent,
		})
		if err != nil {
			slog.Error("failed to notify operator about escalation",
				"notification_id", n.ID,
				"operator", op.ID,
				"error", err,
			)
		}
	}

	slog.Warn("notification escalated",
		"notification_id", n.ID,
		"recipient", n.Recipient,
		"failed_channels", failedNames,
		"operators", len(operators),
	)

	return nil
}
