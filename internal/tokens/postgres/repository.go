// Package postgres provides PostgreSQL implementation of the device token repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/tokens"
)

// Repository implements tokens.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Upsert inserts or refreshes a device token. The registration time of
// an existing token is preserved so cap eviction stays oldest-first.
func (r *Repository) Upsert(ctx context.Context, t *domain.DeviceToken) error {
	query := `
		INSERT INTO device_tokens (recipient, token, platform, device_id, registered_at, last_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient, token) DO UPDATE
		SET platform = EXCLUDED.platform,
		    device_id = EXCLUDED.device_id,
		    last_used = EXCLUDED.last_used
	`
	_, err := r.db.Exec(ctx, query,
		t.Recipient, t.Token, t.Platform, t.DeviceID, t.RegisteredAt, t.LastUsed,
	)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

// EvictOverCap deletes a recipient's oldest-registered tokens beyond the
// cap in a single atomic statement.
func (r *Repository) EvictOverCap(ctx context.Context, recipient string, keep int) (int64, error) {
	query := `
		DELETE FROM device_tokens
		WHERE recipient = $1 AND token IN (
			SELECT token FROM device_tokens
			WHERE recipient = $1
			ORDER BY registered_at DESC, token
			OFFSET $2
		)
	`
	tag, err := r.db.Exec(ctx, query, recipient, keep)
	if err != nil {
		return 0, fmt.Errorf("evict device tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes one token from one recipient.
func (r *Repository) Delete(ctx context.Context, recipient, token string) error {
	query := `DELETE FROM device_tokens WHERE recipient = $1 AND token = $2`

	tag, err := r.db.Exec(ctx, query, recipient, token)
	if err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tokens.ErrTokenNotFound
	}
	return nil
}

// ListForRecipient returns a recipient's tokens, newest registration first.
func (r *Repository) ListForRecipient(ctx context.Context, recipient string) ([]domain.DeviceToken, error) {
	query := `
		SELECT recipient, token, platform, device_id, registered_at, last_used
		FROM device_tokens
		WHERE recipient = $1
		ORDER BY registered_at DESC
	`
	rows, err := r.db.Query(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DeviceToken, 0)
	for rows.Next() {
		var t domain.DeviceToken
		err := rows.Scan(&t.Recipient, &t.Token, &t.Platform, &t.DeviceID, &t.RegisteredAt, &t.LastUsed)
		if err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// MarkUsed refreshes the last-use marker of the given tokens.
func (r *Repository) MarkUsed(ctx context.Context, tokenValues []string, at time.Time) error {
	query := `UPDATE device_tokens SET last_used = $2 WHERE token = ANY($1)`

	if _, err := r.db.Exec(ctx, query, tokenValues, at); err != nil {
		return fmt.Errorf("mark device tokens used: %w", err)
	}
	return nil
}

// DeleteByTokens removes the tokens from every recipient holding them.
func (r *Repository) DeleteByTokens(ctx context.Context, tokenValues []string) (int64, error) {
	query := `DELETE FROM device_tokens WHERE token = ANY($1)`

	tag, err := r.db.Exec(ctx, query, tokenValues)
	if err != nil {
		return 0, fmt.Errorf("delete device tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
