//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/task-garden/internal/directory"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

func insertRecipient(t *testing.T, id, email, webhookURL string, operator bool, prefs domain.Preferences) {
	t.Helper()
	raw, err := json.Marshal(prefs)
	require.NoError(t, err)

	_, err = testDB.Exec(context.Background(), `
		INSERT INTO recipients (id, email, webhook_url, is_operator, preferences)
		VALUES ($1, $2, $3, $4, $5)
	`, id, email, webhookURL, operator, raw)
	require.NoError(t, err)
}

func TestDirectory_Resolve(t *testing.T) {
	cleanTables(t)
	dir := directory.NewPostgres(testDB)

	prefs := domain.Preferences{
		domain.ChannelTypeRealtime: {Enabled: true},
		domain.ChannelTypeEmail: {
			Enabled: true,
			Types:   map[domain.NotificationType]bool{domain.TypeTaskOverdue: true},
		},
	}
	insertRecipient(t, "user-1", "user@example.com", "https://chat.example.com/hooks/abc", false, prefs)

	p, err := dir.Resolve(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", p.Email)
	assert.Equal(t, "https://chat.example.com/hooks/abc", p.WebhookURL)
	assert.False(t, p.IsOperator)

	assert.True(t, p.Preferences.Eligible(domain.ChannelTypeRealtime, domain.TypeTaskAssigned))
	assert.True(t, p.Preferences.Eligible(domain.ChannelTypeEmail, domain.TypeTaskOverdue))
	assert.False(t, p.Preferences.Eligible(domain.ChannelTypeEmail, domain.TypeTaskAssigned))
	assert.False(t, p.Preferences.Eligible(domain.ChannelTypePush, domain.TypeTaskAssigned))
}

func TestDirectory_ResolveUnknown(t *testing.T) {
	cleanTables(t)
	dir := directory.NewPostgres(testDB)

	_, err := dir.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, notifications.ErrRecipientNotFound)
}

func TestDirectory_Operators(t *testing.T) {
	cleanTables(t)
	dir := directory.NewPostgres(testDB)

	insertRecipient(t, "user-1", "", "", false, nil)
	insertRecipient(t, "op-b", "opb@example.com", "", true, domain.Preferences{domain.ChannelTypeEmail: {Enabled: true}})
	insertRecipient(t, "op-a", "opa@example.com", "", true, nil)

	ops, err := dir.Operators(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.Equal(t, "op-a", ops[0].ID)
	assert.Equal(t, "op-b", ops[1].ID)
	assert.True(t, ops[1].IsOperator)
}
