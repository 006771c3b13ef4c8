// Package tokens implements the device token registry: the set of
// push-capable endpoints per recipient, with deduplication, a
// per-recipient cap, and eviction of tokens the push gateway rejects.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// Registry errors.
var (
	ErrInvalidToken    = errors.New("device token has an invalid format")
	ErrInvalidPlatform = errors.New("unknown device platform")
	ErrTokenNotFound   = errors.New("device token not found")
)

// Repository defines the interface for device token persistence. Add and
// eviction operations must be atomic statements so concurrent
// registration and cleanup on the same recipient cannot lose updates.
type Repository interface {
	// Upsert inserts a token or, when the recipient already holds it,
	// refreshes its platform, device id and last-use marker while keeping
	// the original registration time.
	Upsert(ctx context.Context, t *domain.DeviceToken) error

	// EvictOverCap deletes a recipient's oldest-registered tokens so at
	// most keep remain, in one atomic statement.
	EvictOverCap(ctx context.Context, recipient string, keep int) (int64, error)

	Delete(ctx context.Context, recipient, token string) error
	ListForRecipient(ctx context.Context, recipient string) ([]domain.DeviceToken, error)
	MarkUsed(ctx context.Context, tokens []string, at time.Time) error

	// DeleteByTokens removes the tokens from every recipient holding them.
	DeleteByTokens(ctx context.Context, tokens []string) (int64, error)
}

const defaultTokenCap = 10

// Registry owns device token lifecycle for all recipients.
type Registry struct {
	repo     Repository
	tokenCap int
}

// NewRegistry creates a registry with the given per-recipient cap.
func NewRegistry(repo Repository, tokenCap int) *Registry {
	if tokenCap <= 0 {
		tokenCap = defaultTokenCap
	}
	return &Registry{
		repo:     repo,
		tokenCap: tokenCap,
	}
}

// RegisterToken adds a push endpoint for a recipient. Registration is
// idempotent by token value: re-registering refreshes the token instead
// of duplicating it. When the cap is exceeded the oldest-registered
// tokens are evicted, never the newly added one.
func (r *Registry) RegisterToken(ctx context.Context, recipient, token string, platform domain.Platform, deviceID string) (*domain.DeviceToken, error) {
	if !domain.ValidDeviceToken(token) {
		return nil, ErrInvalidToken
	}
	if !platform.Valid() {
		return nil, ErrInvalidPlatform
	}

	now := time.Now()
	t := &domain.DeviceToken{
		Recipient:    recipient,
		Token:        token,
		Platform:     platform,
		DeviceID:     deviceID,
		RegisteredAt: now,
		LastUsed:     now,
	}

	if err := r.repo.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("register token: %w", err)
	}

	evicted, err := r.repo.EvictOverCap(ctx, recipient, r.tokenCap)
	if err != nil {
		return nil, fmt.Errorf("evict over cap: %w", err)
	}
	if evicted > 0 {
		slog.Info("evicted oldest device tokens over cap",
			"recipient", recipient,
			"evicted", evicted,
			"cap", r.tokenCap,
		)
	}

	return t, nil
}

// UnregisterToken removes one of a recipient's push endpoints.
func (r *Registry) UnregisterToken(ctx context.Context, recipient, token string) error {
	return r.repo.Delete(ctx, recipient, token)
}

// ListForRecipient returns a recipient's registered tokens, newest
// registration first.
func (r *Registry) ListForRecipient(ctx context.Context, recipient string) ([]domain.DeviceToken, error) {
	return r.repo.ListForRecipient(ctx, recipient)
}

// MarkUsed refreshes the last-use marker of tokens that just carried a
// push.
func (r *Registry) MarkUsed(ctx context.Context, tokens []string, at time.Time) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.repo.MarkUsed(ctx, tokens, at)
}

// CleanupInvalidTokens removes gateway-rejected tokens from every
// recipient holding them. This is the self-healing loop that keeps dead
// endpoints from accumulating.
func (r *Registry) CleanupInvalidTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	removed, err := r.repo.DeleteByTokens(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("cleanup invalid tokens: %w", err)
	}
	return removed, nil
}
