package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/model"
)

// TaskRepository is the shared task queue the worker pool polls. Claiming
// uses FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type TaskRepository struct {
	db    *database.Postgres
	lease time.Duration
}

// NewTaskRepository creates a new TaskRepository. lease is how long a claimed
// task stays locked without a heartbeat before it is requeued.
func NewTaskRepository(db *database.Postgres, lease time.Duration) *TaskRepository {
	return &TaskRepository{db: db, lease: lease}
}

// Enqueue adds a task to the queue. runAt in the future makes it a durable
// timer: no worker will claim it before that instant.
func (r *TaskRepository) Enqueue(ctx context.Context, task *model.Task) error {
	query := `
		INSERT INTO tasks (run_id, kind, name, payload, run_at, status, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`
	_, err := r.db.ExecContext(ctx, query,
		task.RunID,
		task.Kind,
		task.Name,
		[]byte(task.Payload),
		task.RunAt,
		model.TaskStatusPending,
		task.Seq,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Claim atomically claims one due task for workerID. Returns nil, nil when
// nothing is due. Stuck running tasks whose lease expired are requeued first,
// which is what reschedules work from a worker that died mid-task.
func (r *TaskRepository) Claim(ctx context.Context, workerID string) (*model.Task, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE status = 'running' AND locked_at IS NOT NULL AND locked_at < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int(r.lease.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stuck tasks: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		WITH due AS (
			SELECT id
			FROM tasks
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tasks
		SET status = 'running', locked_by = $1, locked_at = now(), updated_at = now()
		WHERE id IN (SELECT id FROM due)
		RETURNING id, run_id, kind, name, payload, run_at, status, seq, locked_by, locked_at, last_error, created_at, updated_at
	`, workerID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, fmt.Errorf("failed to commit claim tx: %w", commitErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim tx: %w", err)
	}
	return task, nil
}

// Heartbeat extends the lock lease on a claimed task. The activity executor
// calls this periodically; a silently-hung executor stops heartbeating and
// the task gets reclaimed after the lease expires.
func (r *TaskRepository) Heartbeat(ctx context.Context, taskID int64, workerID string) error {
	query := `
		UPDATE tasks SET locked_at = now(), updated_at = now()
		WHERE id = $1 AND locked_by = $2 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, taskID, workerID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to heartbeat task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks a claimed task done
func (r *TaskRepository) Complete(ctx context.Context, taskID int64) error {
	query := `UPDATE tasks SET status = 'done', updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// Fail marks a claimed task failed with a terminal error
func (r *TaskRepository) Fail(ctx context.Context, taskID int64, errMsg string) error {
	query := `UPDATE tasks SET status = 'failed', last_error = $1, updated_at = now() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, errMsg, taskID); err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return nil
}

// HasLive reports whether a pending or running task exists for a run step
func (r *TaskRepository) HasLive(ctx context.Context, runID string, seq int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tasks
			WHERE run_id = $1 AND seq = $2 AND status IN ('pending', 'running')
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, runID, seq).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check live tasks: %w", err)
	}
	return exists, nil
}

// RetryAt releases a claimed task back to pending with a future run_at
func (r *TaskRepository) RetryAt(ctx context.Context, taskID int64, runAt time.Time, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'pending', run_at = $1, locked_by = NULL, locked_at = NULL,
		    last_error = $2, updated_at = now()
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, runAt, errMsg, taskID); err != nil {
		return fmt.Errorf("failed to retry task: %w", err)
	}
	return nil
}

func scanTask(row *sql.Row) (*model.Task, error) {
	var task model.Task
	var name sql.NullString
	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.Kind,
		&name,
		&task.Payload,
		&task.RunAt,
		&task.Status,
		&task.Seq,
		&task.LockedBy,
		&task.LockedAt,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Name = name.String
	return &task, nil
}
