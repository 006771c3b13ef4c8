package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/task-garden/internal/domain"
)

// Dispatcher creates notification records and fans them out to channel
// senders.
type Dispatcher struct {
	repo      Repository
	directory RecipientDirectory
	renderer  *Renderer
	senders   map[domain.ChannelType]Sender
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(repo Repository, directory RecipientDirectory, renderer *Renderer, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		repo:      repo,
		directory: directory,
		renderer:  renderer,
		senders:   senderMap,
	}
}

// SendRequest contains data for sending one notification.
type SendRequest struct {
	Recipient string
	Type      domain.NotificationType
	Title     string
	Message   string
	Data      map[string]string
	Priority  domain.Priority
}

// Send creates a notification record and attempts delivery on every
// eligible channel concurrently. The record is the source of truth: a
// store failure aborts the whole operation, while channel failures are
// captured in the record's per-channel state and never returned as an
// error. Send returns once every channel attempt has settled.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, ErrInvalidPriority
	}

	profile, err := d.directory.Resolve(ctx, req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient %q: %w", req.Recipient, err)
	}

	channels := d.eligibleChannels(profile, req.Type)
	if len(channels) == 0 {
		return nil, ErrNoEligibleChannel
	}

	now := time.Now()
	n := &domain.Notification{
		ID:        uuid.NewString(),
		Recipient: req.Recipient,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		Priority:  req.Priority,
		Channels:  make(map[domain.ChannelType]*domain.ChannelState, len(channels)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, ch := range channels {
		n.Channels[ch] = &domain.ChannelState{}
	}

	if err := d.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	d.deliver(ctx, profile, n, channels)

	slog.Info("notification dispatched",
		"notification_id", n.ID,
		"recipient", n.Recipient,
		"type", n.Type,
		"channels", len(channels),
		"failed", len(n.FailedChannels()),
	)

	return n, nil
}

// BulkResult holds the outcome of one recipient in a bulk send.
type BulkResult struct {
	Recipient      string `json:"recipient"`
	NotificationID string `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SendBulk sends the same notification to many recipients. Per-recipient
// failures are reported in the result slice and never abort the rest.
func (d *Dispatcher) SendBulk(ctx context.Context, recipients []string, req SendRequest) []BulkResult {
	results := make([]BulkResult, 0, len(recipients))
	for _, recipient := range recipients {
		r := req
		r.Recipient = recipient

		result := BulkResult{Recipient: recipient}
		n, err := d.Send(ctx, r)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.NotificationID = n.ID
		}
		results = append(results, result)
	}
	return results
}

// Get returns one notification record by id.
func (d *Dispatcher) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return d.repo.GetNotification(ctx, id)
}

// List returns a recipient's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, recipient string, limit, offset int) ([]domain.Notification, error) {
	return d.repo.ListByRecipient(ctx, recipient, limit, offset)
}

// MarkRead flags a notification as read by its recipient.
func (d *Dispatcher) MarkRead(ctx context.Context, id, recipient string) error {
	return d.repo.MarkRead(ctx, id, recipient)
}

// UnreadCount returns the number of unread notifications for a recipient.
func (d *Dispatcher) UnreadCount(ctx context.Context, recipient string) (int, error) {
	return d.repo.UnreadCount(ctx, recipient)
}

// eligibleChannels returns the channels a notification of the given type
// may be delivered on, limited to channels with a configured sender.
func (d *Dispatcher) eligibleChannels(profile *domain.RecipientProfile, t domain.NotificationType) []domain.ChannelType {
	channels := make([]domain.ChannelType, 0, len(d.senders))
	for _, ch := range domain.AllChannelTypes {
		if _, ok := d.senders[ch]; !ok {
			continue
		}
		if profile.Preferences.Eligible(ch, t) {
			channels = append(channels, ch)
		}
	}
	return channels
}

// deliver attempts the given channels concurrently and records each
// outcome on the notification as soon as it settles. It returns only
// after every attempt has finished; callers may inspect n.Channels
// afterwards without synchronization.
func (d *Dispatcher) deliver(ctx context.Context, profile *domain.RecipientProfile, n *domain.Notification, channels []domain.ChannelType) {
	// Settle the map shape before any goroutine starts; afterwards each
	// attempt touches only its own ChannelState.
	for _, ch := range channels {
		if n.Channels[ch] == nil {
			n.Channels[ch] = &domain.ChannelState{}
		}
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		sender, ok := d.senders[ch]
		if !ok {
			slog.Warn("no sender for channel type", "type", ch)
			continue
		}

		delivery, err := d.buildDelivery(profile, n, ch)
		if err != nil {
			d.recordOutcome(ctx, n, ch, fmt.Errorf("render: %w", err))
			continue
		}

		wg.Add(1)
		go func(ch domain.ChannelType, sender Sender) {
			defer wg.Done()

			start := time.Now()
			err := d.attempt(ctx, sender, delivery)
			recordChannelDuration(string(ch), time.Since(start))

			d.recordOutcome(ctx, n, ch, err)
		}(ch, sender)
	}
	wg.Wait()
}

// buildDelivery renders the channel-specific payload.
func (d *Dispatcher) buildDelivery(profile *domain.RecipientProfile, n *domain.Notification, ch domain.ChannelType) (Delivery, error) {
	delivery := Delivery{
		Profile:      profile,
		Notification: n,
		Subject:      d.renderer.Subject(n),
	}

	switch ch {
	case domain.ChannelTypeEmail:
		body, err := d.renderer.Render(TemplateEmailText, n)
		if err != nil {
			return Delivery{}, err
		}
		htmlBody, err := d.renderer.Render(TemplateEmailHTML, n)
		if err != nil {
			return Delivery{}, err
		}
		delivery.Body = body
		delivery.HTMLBody = htmlBody
	case domain.ChannelTypeWebhook:
		body, err := d.renderer.Render(TemplateWebhook, n)
		if err != nil {
			return Delivery{}, err
		}
		delivery.Body = body
	default:
		// Realtime and push senders serialize the notification themselves.
		delivery.Body = n.Message
	}

	return delivery, nil
}

// attempt runs a single sender, converting panics into errors so one
// misbehaving sender cannot take down the fan-out.
func (d *Dispatcher) attempt(ctx context.Context, sender Sender, delivery Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(ctx, delivery)
}

// recordOutcome writes one channel attempt's result to the in-memory
// record and persists it immediately.
func (d *Dispatcher) recordOutcome(ctx context.Context, n *domain.Notification, ch domain.ChannelType, sendErr error) {
	state := n.Channels[ch]

	if sendErr != nil {
		state.Sent = false
		state.SentAt = nil
		state.Error = sendErr.Error()
		state.Permanent = !isRetryable(sendErr)
		recordChannelAttempt(string(ch), "failed")

		slog.Warn("channel delivery failed",
			"notification_id", n.ID,
			"channel", ch,
			"permanent", state.Permanent,
			"error", sendErr,
		)
	} else {
		now := time.Now()
		state.Sent = true
		state.SentAt = &now
		state.Error = ""
		state.Permanent = false
		recordChannelAttempt(string(ch), "success")
	}

	if err := d.repo.UpdateChannelState(ctx, n.ID, ch, *state); err != nil {
		slog.Error("failed to persist channel state",
			"notification_id", n.ID,
			"channel", ch,
			"error", err,
		)
	}
}
