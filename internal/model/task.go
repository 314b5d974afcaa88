package model

import (
	"encoding/json"
	"time"
)

// TaskKind distinguishes the two kinds of queue work
type TaskKind string

// Task kinds
const (
	// TaskKindWorkflow wakes a run up for another decision pass
	TaskKindWorkflow TaskKind = "workflow"
	// TaskKindActivity executes one impure unit of work
	TaskKindActivity TaskKind = "activity"
)

// TaskStatus is the queue state of a Task
type TaskStatus string

// Task statuses
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is one row in the shared task queue the worker pool polls. Workflow
// wakeups and activity executions both travel through it; durable timers are
// workflow tasks with RunAt in the future.
type Task struct {
	ID       int64           `json:"id"`
	RunID    string          `json:"runId"`
	Kind     TaskKind        `json:"kind"`
	Name     string          `json:"name,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RunAt    time.Time       `json:"runAt"`
	Status   TaskStatus      `json:"status"`
	// Seq links an activity task to its activity_scheduled history event
	Seq       int        `json:"seq"`
	LockedBy  *string    `json:"lockedBy,omitempty"`
	LockedAt  *time.Time `json:"lockedAt,omitempty"`
	LastError *string    `json:"lastError,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
