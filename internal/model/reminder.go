package model

import "time"

// ReminderStatus is the lifecycle state of a ReminderTask
type ReminderStatus string

// Reminder statuses
const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// RunIssuer records which system issued a reminder's bound run id. Decided
// when the row is written, never inferred later by pattern-matching, so that
// identifiers from the decommissioned scheduling backend are recognized and
// skipped instead of fed to the orchestrator.
type RunIssuer string

// Run issuers
const (
	IssuerOrchestrator RunIssuer = "orchestrator"
	IssuerLegacy       RunIssuer = "legacy"
)

// ReminderTask is a scheduled, cancellable send tied to a domain entity
// (e.g. an appointment). Cancelled en masse whenever the entity's timing
// attribute changes.
type ReminderTask struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	RelatedEntityID string         `json:"relatedEntityId"`
	ScheduledFor    time.Time      `json:"scheduledFor"`
	Status          ReminderStatus `json:"status"`
	BoundRunID      *string        `json:"boundRunId,omitempty"`
	RunIssuer       RunIssuer      `json:"runIssuer"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}
