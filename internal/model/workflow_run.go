package model

import (
	"encoding/json"
	"time"
)

// WorkflowType identifies the registered run function for a WorkflowRun
type WorkflowType string

// Workflow types
const (
	WorkflowTypeImmediateSend WorkflowType = "immediate_send"
	WorkflowTypeScheduledSend WorkflowType = "scheduled_send"
	WorkflowTypeBulkSend      WorkflowType = "bulk_send"
	WorkflowTypeReminder      WorkflowType = "reminder"
)

// RunStatus is the lifecycle state of a WorkflowRun
type RunStatus string

// Run statuses
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// WorkflowRun represents one durable execution instance. It is created on
// submission, mutated only by the orchestrator as execution progresses, and
// retained after completion for audit and status queries.
type WorkflowRun struct {
	// ID is the orchestrator-issued run id ("run_" prefixed)
	ID string `json:"id"`
	// WorkflowID is the caller-supplied logical id, unique per run
	WorkflowID      string          `json:"workflowId"`
	WorkflowType    WorkflowType    `json:"workflowType"`
	Input           json.RawMessage `json:"input"`
	Status          RunStatus       `json:"status"`
	Output          json.RawMessage `json:"output,omitempty"`
	LastError       *string         `json:"lastError,omitempty"`
	CancelRequested bool            `json:"cancelRequested"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// RunEvent is one entry in a run's append-only history. The orchestrator
// persists an event after every step so a restarted process can replay the
// history and resume exactly where execution left off.
type RunEvent struct {
	RunID     string          `json:"runId"`
	Seq       int             `json:"seq"`
	Type      RunEventType    `json:"type"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RunEventType enumerates history event kinds
type RunEventType string

// History event types
const (
	EventActivityScheduled RunEventType = "activity_scheduled"
	EventActivityCompleted RunEventType = "activity_completed"
	EventActivityFailed    RunEventType = "activity_failed"
	EventTimerStarted      RunEventType = "timer_started"
	EventTimerFired        RunEventType = "timer_fired"
)
