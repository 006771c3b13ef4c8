package realtime

import (
	"context"
	"log/slog"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

// MessageTypeNotification tags notification pushes on the wire.
const MessageTypeNotification = "notification"

// Sender implements the realtime channel on top of the hub. An offline
// recipient is not a failure: the notification record stays available
// for the next session to fetch, so the send reports success either way.
type Sender struct {
	hub *Hub
}

// NewSender creates a new realtime sender.
func NewSender(hub *Hub) *Sender {
	return &Sender{hub: hub}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeRealtime
}

// Send pushes the notification to the recipient's active sessions.
func (s *Sender) Send(_ context.Context, delivery notifications.Delivery) error {
	delivered := s.hub.Publish(delivery.Profile.ID, Message{
		Type: MessageTypeNotification,
		Data: delivery.Notification,
	})

	if delivered == 0 {
		slog.Debug("recipient offline, realtime push skipped",
			"notification_id", delivery.Notification.ID,
			"recipient", delivery.Profile.ID,
		)
	}
	return nil
}
