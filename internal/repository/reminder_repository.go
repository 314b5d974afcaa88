package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/model"
)

// ReminderRepository handles ReminderTask persistence
type ReminderRepository struct {
	db *database.Postgres
}

// NewReminderRepository creates a new ReminderRepository
func NewReminderRepository(db *database.Postgres) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create stores a new reminder task
func (r *ReminderRepository) Create(ctx context.Context, task *model.ReminderTask) error {
	query := `
		INSERT INTO reminder_tasks
			(id, tenant_id, related_entity_id, scheduled_for, status, bound_run_id, run_issuer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.TenantID,
		task.RelatedEntityID,
		task.ScheduledFor,
		task.Status,
		task.BoundRunID,
		task.RunIssuer,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder task: %w", err)
	}
	return nil
}

// Get retrieves a reminder task by id
func (r *ReminderRepository) Get(ctx context.Context, id string) (*model.ReminderTask, error) {
	query := `
		SELECT id, tenant_id, related_entity_id, scheduled_for, status, bound_run_id, run_issuer, created_at, updated_at
		FROM reminder_tasks
		WHERE id = $1
	`
	var task model.ReminderTask
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.TenantID, &task.RelatedEntityID, &task.ScheduledFor,
		&task.Status, &task.BoundRunID, &task.RunIssuer, &task.CreatedAt, &task.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder task: %w", err)
	}
	return &task, nil
}

// BindRun records the workflow run backing a reminder once the orchestrator
// has started it
func (r *ReminderRepository) BindRun(ctx context.Context, id, runID string, issuer model.RunIssuer) error {
	query := `
		UPDATE reminder_tasks SET bound_run_id = $1, run_issuer = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, runID, issuer, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to bind run to reminder: %w", err)
	}
	return nil
}

// ListPendingByEntity returns all pending reminders for a domain entity
func (r *ReminderRepository) ListPendingByEntity(ctx context.Context, entityID string) ([]*model.ReminderTask, error) {
	query := `
		SELECT id, tenant_id, related_entity_id, scheduled_for, status, bound_run_id, run_issuer, created_at, updated_at
		FROM reminder_tasks
		WHERE related_entity_id = $1 AND status = $2
		ORDER BY scheduled_for
	`
	rows, err := r.db.QueryContext(ctx, query, entityID, model.ReminderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	defer rows.Close()

	var tasks []*model.ReminderTask
	for rows.Next() {
		var task model.ReminderTask
		if err := rows.Scan(
			&task.ID, &task.TenantID, &task.RelatedEntityID, &task.ScheduledFor,
			&task.Status, &task.BoundRunID, &task.RunIssuer, &task.CreatedAt, &task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reminder task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// UpdateStatus sets a reminder's lifecycle status
func (r *ReminderRepository) UpdateStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	query := `UPDATE reminder_tasks SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}
	return nil
}

// ResetEntityReminderFlags clears the "reminder sent" flags on the owning
// entity so a fresh ReminderTask can be created against the new schedule
func (r *ReminderRepository) ResetEntityReminderFlags(ctx context.Context, entityID string) error {
	query := `
		UPDATE entity_reminder_flags
		SET reminder_sent = FALSE, updated_at = $1
		WHERE entity_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, time.Now(), entityID)
	if err != nil {
		return fmt.Errorf("failed to reset entity reminder flags: %w", err)
	}
	return nil
}
