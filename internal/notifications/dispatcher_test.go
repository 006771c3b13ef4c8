package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/task-garden/internal/domain"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return renderer
}

func TestDispatcher_Send_FanOut(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{
		ID:          "user-1",
		Email:       "user@example.com",
		Preferences: allChannelPrefs(),
	}

	realtimeSender := &fakeSender{channel: domain.ChannelTypeRealtime}
	emailSender := &fakeSender{channel: domain.ChannelTypeEmail, err: NewRetryableError(errors.New("smtp 451"))}

	d := NewDispatcher(repo, dir, newTestRenderer(t), realtimeSender, emailSender)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task assigned",
		Message:   "You were assigned a task",
		Priority:  domain.PriorityHigh,
	})
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.Equal(t, 1, realtimeSender.callCount())
	assert.Equal(t, 1, emailSender.callCount())

	stored := repo.get(n.ID)
	require.NotNil(t, stored)

	// Only channels with a configured sender get a state.
	assert.Len(t, stored.Channels, 2)
	assert.NotContains(t, stored.Channels, domain.ChannelTypeWebhook)
	assert.NotContains(t, stored.Channels, domain.ChannelTypePush)

	rt := stored.Channels[domain.ChannelTypeRealtime]
	require.NotNil(t, rt)
	assert.True(t, rt.Sent)
	assert.NotNil(t, rt.SentAt)
	assert.Empty(t, rt.Error)

	em := stored.Channels[domain.ChannelTypeEmail]
	require.NotNil(t, em)
	assert.False(t, em.Sent)
	assert.Nil(t, em.SentAt)
	assert.Contains(t, em.Error, "smtp 451")
}

func TestDispatcher_Send_RecordsFailureClassification(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{
		ID:          "user-1",
		Email:       "user@example.com",
		Preferences: allChannelPrefs(),
	}

	senders := []Sender{
		&fakeSender{channel: domain.ChannelTypeEmail, err: NewNonRetryableError(errors.New("550 no such user"))},
		&fakeSender{channel: domain.ChannelTypeWebhook, err: NewRetryableError(errors.New("503"))},
		&fakeSender{channel: domain.ChannelTypePush, err: errors.New("gateway timeout")},
	}
	d := NewDispatcher(repo, dir, newTestRenderer(t), senders...)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	require.NoError(t, err)

	stored := repo.get(n.ID)
	assert.True(t, stored.Channels[domain.ChannelTypeEmail].Permanent)
	assert.False(t, stored.Channels[domain.ChannelTypeWebhook].Permanent)
	// Unclassified errors default to retryable.
	assert.False(t, stored.Channels[domain.ChannelTypePush].Permanent)

	assert.Equal(t, []domain.ChannelType{domain.ChannelTypeWebhook, domain.ChannelTypePush}, stored.RetryableChannels())
}

func TestDispatcher_Send_ChannelFailureIsNotCallFailure(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	failing := &fakeSender{channel: domain.ChannelTypeRealtime, err: errors.New("boom")}
	d := NewDispatcher(repo, dir, newTestRenderer(t), failing)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskCompleted,
		Title:     "Done",
		Message:   "Task finished",
	})

	// The call reflects durable recording only; channel outcomes are data.
	require.NoError(t, err)
	assert.True(t, n.HasFailures())
}

func TestDispatcher_Send_StoreFailureIsHardFailure(t *testing.T) {
	repo := newMockRepository()
	repo.createErr = errors.New("connection refused")
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	sender := &fakeSender{channel: domain.ChannelTypeRealtime}
	d := NewDispatcher(repo, dir, newTestRenderer(t), sender)

	_, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})

	require.Error(t, err)
	assert.Equal(t, 0, sender.callCount(), "no channel attempt without a durable record")
}

func TestDispatcher_Send_RespectsPreferences(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{
		ID: "user-1",
		Preferences: domain.Preferences{
			domain.ChannelTypeEmail: {
				Enabled: true,
				Types:   map[domain.NotificationType]bool{domain.TypeTaskOverdue: true},
			},
			domain.ChannelTypeRealtime: {Enabled: false},
		},
	}

	realtimeSender := &fakeSender{channel: domain.ChannelTypeRealtime}
	emailSender := &fakeSender{channel: domain.ChannelTypeEmail}
	d := NewDispatcher(repo, dir, newTestRenderer(t), realtimeSender, emailSender)

	// task_assigned is not in the email type opt-in and realtime is off.
	_, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	assert.ErrorIs(t, err, ErrNoEligibleChannel)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskOverdue,
		Title:     "Task overdue",
		Message:   "msg",
	})
	require.NoError(t, err)
	assert.Len(t, n.Channels, 1)
	assert.Contains(t, n.Channels, domain.ChannelTypeEmail)
	assert.Equal(t, 0, realtimeSender.callCount())
}

func TestDispatcher_Send_UnknownRecipient(t *testing.T) {
	d := NewDispatcher(newMockRepository(), newMockDirectory(), newTestRenderer(t),
		&fakeSender{channel: domain.ChannelTypeRealtime})

	_, err := d.Send(context.Background(), SendRequest{
		Recipient: "ghost",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestDispatcher_Send_InvalidPriority(t *testing.T) {
	d := NewDispatcher(newMockRepository(), newMockDirectory(), newTestRenderer(t),
		&fakeSender{channel: domain.ChannelTypeRealtime})

	_, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
		Priority:  "critical",
	})
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestDispatcher_Send_DefaultsToMediumPriority(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeNoteShared,
		Title:     "Note",
		Message:   "msg",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, n.Priority)
}

func TestDispatcher_Send_SenderPanicBecomesChannelError(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	panicking := &fakeSender{channel: domain.ChannelTypeRealtime, panics: true}
	healthy := &fakeSender{channel: domain.ChannelTypeEmail}
	d := NewDispatcher(repo, dir, newTestRenderer(t), panicking, healthy)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	require.NoError(t, err)

	rt := n.Channels[domain.ChannelTypeRealtime]
	assert.False(t, rt.Sent)
	assert.Contains(t, rt.Error, "panic")

	assert.True(t, n.Channels[domain.ChannelTypeEmail].Sent)
}

func TestDispatcher_SendBulk_IsolatesFailures(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}
	dir.profiles["user-3"] = &domain.RecipientProfile{ID: "user-3", Preferences: allChannelPrefs()}

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})

	results := d.SendBulk(context.Background(), []string{"user-1", "user-2", "user-3"}, SendRequest{
		Type:    domain.TypeSystemAnnouncement,
		Title:   "Maintenance",
		Message: "Scheduled downtime",
	})

	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].NotificationID)
	assert.Empty(t, results[0].Error)
	assert.Empty(t, results[1].NotificationID)
	assert.NotEmpty(t, results[1].Error)
	assert.NotEmpty(t, results[2].NotificationID)
}

func TestDispatcher_ChannelStateInvariant(t *testing.T) {
	// A channel state never carries both sent=true and an error.
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	senders := []Sender{
		&fakeSender{channel: domain.ChannelTypeRealtime},
		&fakeSender{channel: domain.ChannelTypeEmail, err: errors.New("down")},
		&fakeSender{channel: domain.ChannelTypeWebhook},
		&fakeSender{channel: domain.ChannelTypePush, err: errors.New("gateway timeout")},
	}
	d := NewDispatcher(repo, dir, newTestRenderer(t), senders...)

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	require.NoError(t, err)

	for ch, state := range n.Channels {
		if state.Sent {
			assert.Empty(t, state.Error, "channel %s", ch)
			assert.NotNil(t, state.SentAt, "channel %s", ch)
		} else {
			assert.Nil(t, state.SentAt, "channel %s", ch)
		}
	}
}

func TestDispatcher_MarkReadAndUnreadCount(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["user-1"] = &domain.RecipientProfile{ID: "user-1", Preferences: allChannelPrefs()}

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})

	n, err := d.Send(context.Background(), SendRequest{
		Recipient: "user-1",
		Type:      domain.TypeTaskAssigned,
		Title:     "Task",
		Message:   "msg",
	})
	require.NoError(t, err)

	count, err := d.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, d.MarkRead(context.Background(), n.ID, "user-1"))

	count, err = d.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Wrong recipient cannot mark someone else's notification.
	assert.ErrorIs(t, d.MarkRead(context.Background(), n.ID, "user-2"), ErrNotificationNotFound)
}
