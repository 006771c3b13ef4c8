// Package directory resolves recipient identities to delivery
// configuration. The shipped implementation reads a recipients table;
// product systems embedding the notification subsystem can substitute
// their own notifications.RecipientDirectory.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

// Postgres implements notifications.RecipientDirectory over a
// recipients table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a postgres-backed recipient directory.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Resolve returns one recipient's delivery configuration.
func (d *Postgres) Resolve(ctx context.Context, recipientID string) (*domain.RecipientProfile, error) {
	query := `
		SELECT id, email, webhook_url, is_operator, preferences
		FROM recipients
		WHERE id = $1
	`
	var p domain.RecipientProfile
	err := d.db.QueryRow(ctx, query, recipientID).Scan(
		&p.ID,
		&p.Email,
		&p.WebhookURL,
		&p.IsOperator,
		&p.Preferences,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	return &p, nil
}

// Operators lists every recipient flagged as an operator.
func (d *Postgres) Operators(ctx context.Context) ([]domain.RecipientProfile, error) {
	query := `
		SELECT id, email, webhook_url, is_operator, preferences
		FROM recipients
		WHERE is_operator = TRUE
		ORDER BY id
	`
	rows, err := d.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RecipientProfile, 0)
	for rows.Next() {
		var p domain.RecipientProfile
		err := rows.Scan(&p.ID, &p.Email, &p.WebhookURL, &p.IsOperator, &p.Preferences)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
