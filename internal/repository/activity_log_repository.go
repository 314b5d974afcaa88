package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/model"
)

// ActivityLogRepository handles the append-only per-recipient email timeline
type ActivityLogRepository struct {
	db *database.Postgres
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db *database.Postgres) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Append inserts a timeline entry. Entries are keyed by webhook_id with
// insert-or-ignore semantics: a retried reconciliation carrying the same
// webhook id produces exactly one entry. Returns true if a row was inserted.
func (r *ActivityLogRepository) Append(ctx context.Context, entry *model.EmailActivityLogEntry) (bool, error) {
	query := `
		INSERT INTO email_activity_log
			(id, tenant_id, contact_id, activity_type, activity_data, webhook_id, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (webhook_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.ContactID,
		entry.ActivityType,
		[]byte(entry.ActivityData),
		entry.WebhookID,
		entry.OccurredAt,
		time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append activity log entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to append activity log entry: %w", err)
	}
	return n > 0, nil
}

// ListByContact returns a contact's timeline, newest first
func (r *ActivityLogRepository) ListByContact(ctx context.Context, tenantID, contactID string, limit int) ([]*model.EmailActivityLogEntry, error) {
	query := `
		SELECT id, tenant_id, contact_id, activity_type, activity_data, webhook_id, occurred_at, created_at
		FROM email_activity_log
		WHERE tenant_id = $1 AND contact_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity log: %w", err)
	}
	defer rows.Close()

	var entries []*model.EmailActivityLogEntry
	for rows.Next() {
		var entry model.EmailActivityLogEntry
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.ContactID, &entry.ActivityType,
			&entry.ActivityData, &entry.WebhookID, &entry.OccurredAt, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
