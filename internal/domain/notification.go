// Package domain contains the core types shared across modules.
package domain

import "time"

// ChannelType identifies one independent delivery mechanism.
type ChannelType string

// Delivery channels.
const (
	ChannelTypeRealtime ChannelType = "realtime"
	ChannelTypeEmail    ChannelType = "email"
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypePush     ChannelType = "push"
)

// AllChannelTypes lists every delivery channel in a stable order.
var AllChannelTypes = []ChannelType{
	ChannelTypeRealtime,
	ChannelTypeEmail,
	ChannelTypeWebhook,
	ChannelTypePush,
}

// NotificationType is a closed tag describing the business event.
type NotificationType string

// Notification types.
const (
	TypeTaskAssigned       NotificationType = "task_assigned"
	TypeTaskCompleted      NotificationType = "task_completed"
	TypeTaskOverdue        NotificationType = "task_overdue"
	TypeNoteShared         NotificationType = "note_shared"
	TypeSystemAnnouncement NotificationType = "system_announcement"

	// TypeDeliveryFailure marks escalation notifications created when an
	// original notification exhausts its retries. Records of this type are
	// excluded from retry-candidate scans and never re-escalated.
	TypeDeliveryFailure NotificationType = "delivery_failure"
)

// Priority controls escalation and UI weighting.
type Priority string

// Priorities, lowest to highest.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns the sort weight of a priority; unknown values sort lowest.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p.Weight() > 0
}

// ChannelState tracks one channel's delivery progress for a notification.
//
// A channel that was never eligible has no ChannelState at all. A state with
// neither Sent nor Error set has not been attempted yet. Sent and Error are
// mutually exclusive: success clears the error and the permanent marker.
type ChannelState struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at,omitempty"`
	Error  string     `json:"error,omitempty"`

	// Permanent marks a failure the sender classified as unrecoverable
	// (dead address, gateway-confirmed invalid tokens). Permanently
	// failed channels are never re-attempted.
	Permanent bool `json:"permanent,omitempty"`
}

// Failed reports whether the channel has been attempted and failed.
func (s ChannelState) Failed() bool {
	return !s.Sent && s.Error != ""
}

// Retryable reports whether the channel failed in a way worth re-attempting.
func (s ChannelState) Retryable() bool {
	return s.Failed() && !s.Permanent
}

// Notification is the persisted record of one logical notification and its
// per-channel delivery state. It is created once, mutated in place, and
// eventually deleted by the cleanup sweeper; it is never re-created.
type Notification struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  Priority          `json:"priority"`

	Channels map[ChannelType]*ChannelState `json:"channels"`

	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	IsRetrying  bool       `json:"is_retrying"`

	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`

	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FailedChannels returns the channels that have been attempted and still
// carry an error, in stable order.
func (n *Notification) FailedChannels() []ChannelType {
	failed := make([]ChannelType, 0, len(n.Channels))
	for _, ch := range AllChannelTypes {
		if state, ok := n.Channels[ch]; ok && state.Failed() {
			failed = append(failed, ch)
		}
	}
	return failed
}

// HasFailures reports whether at least one channel is in a failed state.
func (n *Notification) HasFailures() bool {
	return len(n.FailedChannels()) > 0
}

// RetryableChannels returns the failed channels that are still worth
// re-attempting, in stable order.
func (n *Notification) RetryableChannels() []ChannelType {
	retryable := make([]ChannelType, 0, len(n.Channels))
	for _, ch := range AllChannelTypes {
		if state, ok := n.Channels[ch]; ok && state.Retryable() {
			retryable = append(retryable, ch)
		}
	}
	return retryable
}

// HasRetryableFailures reports whether at least one failed channel is
// still worth re-attempting.
func (n *Notification) HasRetryableFailures() bool {
	return len(n.RetryableChannels()) > 0
}
