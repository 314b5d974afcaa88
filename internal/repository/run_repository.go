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

// RunRepository handles WorkflowRun and run history persistence
type RunRepository struct {
	db *database.Postgres
}

// NewRunRepository creates a new RunRepository
func NewRunRepository(db *database.Postgres) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun stores a new workflow run in status queued
func (r *RunRepository) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (id, workflow_id, workflow_type, input, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.WorkflowType,
		[]byte(run.Input),
		run.Status,
		run.StartedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by its orchestrator-issued id
func (r *RunRepository) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	return r.getRunBy(ctx, "id", id)
}

// GetRunByWorkflowID retrieves a workflow run by the caller-supplied logical id
func (r *RunRepository) GetRunByWorkflowID(ctx context.Context, workflowID string) (*model.WorkflowRun, error) {
	return r.getRunBy(ctx, "workflow_id", workflowID)
}

func (r *RunRepository) getRunBy(ctx context.Context, column, value string) (*model.WorkflowRun, error) {
	query := fmt.Sprintf(`
		SELECT id, workflow_id, workflow_type, input, status, output, last_error, cancel_requested,
		       started_at, completed_at, updated_at
		FROM workflow_runs
		WHERE %s = $1
	`, column)
	var run model.WorkflowRun
	var output sql.NullString
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkflowType,
		&run.Input,
		&run.Status,
		&output,
		&run.LastError,
		&run.CancelRequested,
		&run.StartedAt,
		&run.CompletedAt,
		&run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}
	if output.Valid {
		run.Output = []byte(output.String)
	}
	return &run, nil
}

// MarkRunning transitions a queued run to running
func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_runs SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.RunStatusRunning, time.Now(), id, model.RunStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// CompleteRun transitions a run to a terminal state. Runs already terminal
// are left untouched so a replayed completion cannot flip the outcome.
func (r *RunRepository) CompleteRun(ctx context.Context, id string, status model.RunStatus, output []byte, lastError *string) error {
	now := time.Now()
	query := `
		UPDATE workflow_runs
		SET status = $1, output = $2, last_error = $3, completed_at = $4, updated_at = $4
		WHERE id = $5 AND status NOT IN ($6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		status, output, lastError, now, id,
		model.RunStatusCompleted, model.RunStatusFailed, model.RunStatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RequestCancel flags a run for cooperative cancellation. Returns ErrNotFound
// if no such run exists; terminal runs are not flagged.
func (r *RunRepository) RequestCancel(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_runs SET cancel_requested = TRUE, updated_at = $1
		WHERE id = $2 AND status IN ($3, $4)
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id, model.RunStatusQueued, model.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if n == 0 {
		// Either unknown or already terminal; disambiguate for the caller
		if _, getErr := r.GetRun(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// AppendEvent appends one event to a run's history. Seq collisions (two
// workers deciding the same step) surface as ErrDuplicate and the loser
// discards its work.
func (r *RunRepository) AppendEvent(ctx context.Context, ev *model.RunEvent) error {
	query := `
		INSERT INTO run_events (run_id, seq, type, name, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.RunID,
		ev.Seq,
		ev.Type,
		ev.Name,
		[]byte(ev.Payload),
		ev.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to append run event: %w", err)
	}
	return nil
}

// ListEvents returns a run's history in sequence order
func (r *RunRepository) ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	query := `
		SELECT run_id, seq, type, name, payload, created_at
		FROM run_events
		WHERE run_id = $1
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	var events []model.RunEvent
	for rows.Next() {
		var ev model.RunEvent
		var name sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &name, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		ev.Name = name.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
