package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/task-garden/internal/domain"
)

func TestEscalator_SkipsDeliveryFailureRecords(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.operators = []domain.RecipientProfile{{ID: "op-1", Preferences: allChannelPrefs()}}

	n := failedRecord("op-1")
	n.Type = domain.TypeDeliveryFailure
	repo.put(n)

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})
	e := NewEscalator(repo, dir, d)

	require.NoError(t, e.Escalate(context.Background(), repo.get(n.ID)))

	stored := repo.get(n.ID)
	assert.False(t, stored.Escalated, "escalation notifications must not escalate themselves")

	repo.mu.Lock()
	assert.Len(t, repo.records, 1)
	repo.mu.Unlock()
}

func TestEscalator_NoOperatorsConfigured(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()

	n := failedRecord("user-1")
	repo.put(n)

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})
	e := NewEscalator(repo, dir, d)

	require.NoError(t, e.Escalate(context.Background(), repo.get(n.ID)))

	// The record is still marked so cleanup can reclaim it later.
	stored := repo.get(n.ID)
	assert.True(t, stored.Escalated)

	repo.mu.Lock()
	assert.Len(t, repo.records, 1, "no operator notifications created")
	repo.mu.Unlock()
}

func TestEscalator_DirectoryFailureLeavesRecordUnescalated(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.operatorsErr = errors.New("directory down")

	n := failedRecord("user-1")
	n.RetryCount = 3
	repo.put(n)

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})
	e := NewEscalator(repo, dir, d)

	require.Error(t, e.Escalate(context.Background(), repo.get(n.ID)))

	stored := repo.get(n.ID)
	assert.False(t, stored.Escalated, "terminal marker must not flip before operators are resolved")

	repo.mu.Lock()
	assert.Len(t, repo.records, 1, "no operator notifications created")
	repo.mu.Unlock()
}

func TestEscalator_FailedChannelsInPayload(t *testing.T) {
	repo := newMockRepository()
	dir := newMockDirectory()
	dir.profiles["op-1"] = &domain.RecipientProfile{ID: "op-1", Preferences: allChannelPrefs()}
	dir.operators = []domain.RecipientProfile{*dir.profiles["op-1"]}

	n := failedRecord("user-1")
	n.Channels[domain.ChannelTypeWebhook] = &domain.ChannelState{Sent: false, Error: "410 gone"}
	n.RetryCount = 3
	repo.put(n)

	d := NewDispatcher(repo, dir, newTestRenderer(t), &fakeSender{channel: domain.ChannelTypeRealtime})
	e := NewEscalator(repo, dir, d)

	require.NoError(t, e.Escalate(context.Background(), repo.get(n.ID)))

	var escalation *domain.Notification
	repo.mu.Lock()
	for _, rec := range repo.records {
		if rec.Type == domain.TypeDeliveryFailure {
			escalation = copyNotification(rec)
		}
	}
	repo.mu.Unlock()

	require.NotNil(t, escalation)
	assert.Equal(t, "op-1", escalation.Recipient)
	assert.Equal(t, "3", escalation.Data["retry_count"])
	assert.Contains(t, escalation.Data["failed_channels"], "email")
	assert.Contains(t, escalation.Data["failed_channels"], "webhook")
}
