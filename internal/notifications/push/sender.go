package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

// TokenSource is the slice of the device token registry the push channel
// needs: the recipient's current tokens, a way to refresh their last-use
// marker, and the invalid-token feedback hook.
type TokenSource interface {
	ListForRecipient(ctx context.Context, recipient string) ([]domain.DeviceToken, error)
	MarkUsed(ctx context.Context, tokens []string, at time.Time) error
	CleanupInvalidTokens(ctx context.Context, tokens []string) (int64, error)
}

// Sender implements the mobile push channel on top of the batcher.
type Sender struct {
	batcher *Batcher
	tokens  TokenSource
}

// NewSender creates a new push sender.
func NewSender(batcher *Batcher, tokens TokenSource) *Sender {
	return &Sender{
		batcher: batcher,
		tokens:  tokens,
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypePush
}

// Send pushes the notification to all of the recipient's devices. A
// recipient without registered devices is treated like an offline
// realtime session: nothing to do, not a failure. Tokens the gateway
// rejects as permanently invalid are evicted from the whole registry.
func (s *Sender) Send(ctx context.Context, delivery notifications.Delivery) error {
	n := delivery.Notification

	registered, err := s.tokens.ListForRecipient(ctx, delivery.Profile.ID)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("list device tokens: %w", err))
	}
	if len(registered) == 0 {
		slog.Debug("recipient has no registered devices, push skipped",
			"notification_id", n.ID,
			"recipient", delivery.Profile.ID,
		)
		return nil
	}

	tokens := make([]string, len(registered))
	for i, t := range registered {
		tokens[i] = t.Token
	}

	outcome, sendErr := s.batcher.Send(ctx, Message{
		Title:    n.Title,
		Body:     n.Message,
		Data:     n.Data,
		Priority: string(n.Priority),
	}, tokens)

	if len(outcome.Invalid) > 0 {
		removed, cleanupErr := s.tokens.CleanupInvalidTokens(ctx, outcome.Invalid)
		if cleanupErr != nil {
			slog.Error("failed to evict invalid device tokens",
				"count", len(outcome.Invalid),
				"error", cleanupErr,
			)
		} else {
			slog.Info("evicted invalid device tokens",
				"reported", len(outcome.Invalid),
				"removed", removed,
			)
		}
	}

	if sendErr != nil {
		return sendErr
	}

	if err := s.tokens.MarkUsed(ctx, tokens, time.Now()); err != nil {
		slog.Warn("failed to refresh token last-use markers", "error", err)
	}

	slog.Debug("push sent",
		"notification_id", n.ID,
		"recipient", delivery.Profile.ID,
		"devices", len(tokens),
		"delivered", outcome.Delivered,
	)
	return nil
}
