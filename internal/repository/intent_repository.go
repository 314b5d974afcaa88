package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/lib/pq"
)

// IntentRepository handles DeliveryIntent persistence
type IntentRepository struct {
	db *database.Postgres
}

// NewIntentRepository creates a new IntentRepository
func NewIntentRepository(db *database.Postgres) *IntentRepository {
	return &IntentRepository{db: db}
}

// CreatePending inserts a new intent in status pending. This must happen
// strictly before the network send is attempted.
func (r *IntentRepository) CreatePending(ctx context.Context, intent *model.DeliveryIntent) error {
	query := `
		INSERT INTO delivery_intents
			(id, tenant_id, recipient, sender, subject, html_body, text_body,
			 category, status, related_entity_id, run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		intent.ID,
		intent.TenantID,
		intent.Recipient,
		intent.Sender,
		intent.Subject,
		intent.HTMLBody,
		intent.TextBody,
		intent.Category,
		model.IntentStatusPending,
		intent.RelatedEntityID,
		intent.RunID,
		time.Now(),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create delivery intent: %w", err)
	}
	return nil
}

// Get retrieves an intent by id
func (r *IntentRepository) Get(ctx context.Context, id string) (*model.DeliveryIntent, error) {
	query := `
		SELECT id, tenant_id, recipient, sender, subject, html_body, text_body,
		       category, status, provider, provider_message_id, related_entity_id,
		       run_id, created_at, updated_at
		FROM delivery_intents
		WHERE id = $1
	`
	return scanIntent(r.db.QueryRowContext(ctx, query, id))
}

// Reconcile transitions a pending intent to sent or failed exactly once.
// Concurrent or retried reconciliations of the same intent are last-write-wins
// on the pending row only; an already-reconciled intent is left untouched.
func (r *IntentRepository) Reconcile(ctx context.Context, id string, status model.IntentStatus, provider, providerMessageID *string) error {
	if status != model.IntentStatusSent && status != model.IntentStatusFailed {
		return ErrInvalidInput
	}
	if status == model.IntentStatusSent && (providerMessageID == nil || *providerMessageID == "") {
		// A sent intent without a provider message id must never exist
		return ErrInvalidInput
	}
	query := `
		UPDATE delivery_intents
		SET status = $1, provider = $2, provider_message_id = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query, status, provider, providerMessageID, time.Now(), id, model.IntentStatusPending)
	if err != nil {
		return fmt.Errorf("failed to reconcile delivery intent: %w", err)
	}
	return nil
}

// ListStuckPending returns intents still pending past the grace window,
// oldest first. These are crash leftovers: the process died between the
// insert and the send confirmation.
func (r *IntentRepository) ListStuckPending(ctx context.Context, grace time.Duration, limit int) ([]*model.DeliveryIntent, error) {
	query := `
		SELECT id, tenant_id, recipient, sender, subject, html_body, text_body,
		       category, status, provider, provider_message_id, related_entity_id,
		       run_id, created_at, updated_at
		FROM delivery_intents
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, model.IntentStatusPending, time.Now().Add(-grace), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck intents: %w", err)
	}
	defer rows.Close()

	var intents []*model.DeliveryIntent
	for rows.Next() {
		intent, err := scanIntentRows(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

func scanIntent(row *sql.Row) (*model.DeliveryIntent, error) {
	var intent model.DeliveryIntent
	err := row.Scan(
		&intent.ID, &intent.TenantID, &intent.Recipient, &intent.Sender,
		&intent.Subject, &intent.HTMLBody, &intent.TextBody, &intent.Category,
		&intent.Status, &intent.Provider, &intent.ProviderMessageID,
		&intent.RelatedEntityID, &intent.RunID, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery intent: %w", err)
	}
	return &intent, nil
}

func scanIntentRows(rows *sql.Rows) (*model.DeliveryIntent, error) {
	var intent model.DeliveryIntent
	err := rows.Scan(
		&intent.ID, &intent.TenantID, &intent.Recipient, &intent.Sender,
		&intent.Subject, &intent.HTMLBody, &intent.TextBody, &intent.Category,
		&intent.Status, &intent.Provider, &intent.ProviderMessageID,
		&intent.RelatedEntityID, &intent.RunID, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery intent: %w", err)
	}
	return &intent, nil
}
