package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

// Orchestrator is the slice of the workflow engine the registry needs
type Orchestrator interface {
	Start(ctx context.Context, t model.WorkflowType, workflowID string, input interface{}) (*model.WorkflowRun, error)
	Cancel(ctx context.Context, storedID string) (workflow.CancelResult, error)
}

// ReminderStore is the slice of ReminderRepository the registry needs
type ReminderStore interface {
	Create(ctx context.Context, task *model.ReminderTask) error
	BindRun(ctx context.Context, id, runID string, issuer model.RunIssuer) error
	ListPendingByEntity(ctx context.Context, entityID string) ([]*model.ReminderTask, error)
	UpdateStatus(ctx context.Context, id string, status model.ReminderStatus) error
	ResetEntityReminderFlags(ctx context.Context, entityID string) error
}

// Registry maps logical scheduled tasks ("reminder for appointment X") to
// running or queued workflow instances so they can later be cancelled or
// rescheduled.
type Registry struct {
	orch      Orchestrator
	reminders ReminderStore
	log       *logger.Logger
}

// NewRegistry creates a new Registry
func NewRegistry(orch Orchestrator, reminders ReminderStore, log *logger.Logger) *Registry {
	return &Registry{
		orch:      orch,
		reminders: reminders,
		log:       log.WithComponent("schedule"),
	}
}

// ScheduleRequest describes a future reminder send
type ScheduleRequest struct {
	TenantID        string             `json:"tenantId"`
	RelatedEntityID string             `json:"relatedEntityId"`
	ScheduledFor    time.Time          `json:"scheduledFor"`
	Send            delivery.SendInput `json:"send"`
}

// Schedule records a ReminderTask and starts the workflow that will wait
// until the scheduled instant and send. Returns the reminder id and the
// orchestrator-issued run id it is bound to.
func (r *Registry) Schedule(ctx context.Context, req ScheduleRequest) (*model.ReminderTask, error) {
	task := &model.ReminderTask{
		ID:              "rem_" + uuid.NewString(),
		TenantID:        req.TenantID,
		RelatedEntityID: req.RelatedEntityID,
		ScheduledFor:    req.ScheduledFor,
		Status:          model.ReminderStatusPending,
		RunIssuer:       model.IssuerOrchestrator,
	}
	if err := r.reminders.Create(ctx, task); err != nil {
		return nil, err
	}

	run, err := r.orch.Start(ctx, model.WorkflowTypeReminder, "reminder:"+task.ID, delivery.ScheduledInput{
		SendInput:    req.Send,
		ScheduledFor: req.ScheduledFor,
		ReminderID:   task.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start reminder workflow: %w", err)
	}

	if err := r.reminders.BindRun(ctx, task.ID, run.ID, model.IssuerOrchestrator); err != nil {
		return nil, err
	}
	task.BoundRunID = &run.ID

	r.log.Info().
		Str("reminder_id", task.ID).
		Str("run_id", run.ID).
		Time("scheduled_for", req.ScheduledFor).
		Msg("reminder scheduled")
	return task, nil
}

// Cancel cancels the run behind a stored identifier. Legacy identifiers from
// the decommissioned scheduling backend come back as a structured
// not-applicable result, never an error and never a state mutation.
func (r *Registry) Cancel(ctx context.Context, storedID string) (workflow.CancelResult, error) {
	return r.orch.Cancel(ctx, storedID)
}

// Reschedule is invoked whenever a domain entity's timing attribute changes
// (an appointment was moved). All of the entity's pending reminders are
// cancelled; the stored status is the source of truth for "do not send", so
// each reminder is marked cancelled even when cancelling its live run fails.
// The entity's reminder-sent flags are reset so fresh reminders can be
// created against the new schedule.
func (r *Registry) Reschedule(ctx context.Context, entityID string) (int, error) {
	pending, err := r.reminders.ListPendingByEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}

	for _, task := range pending {
		if task.BoundRunID != nil && task.RunIssuer == model.IssuerOrchestrator {
			result, err := r.orch.Cancel(ctx, *task.BoundRunID)
			if err != nil {
				r.log.Warn().Err(err).
					Str("reminder_id", task.ID).
					Str("run_id", *task.BoundRunID).
					Msg("live cancellation failed, marking cancelled anyway")
			} else if !result.Success {
				r.log.Warn().
					Str("reminder_id", task.ID).
					Str("run_id", *task.BoundRunID).
					Str("reason", result.Reason).
					Msg("run not cancellable")
			}
		}
		if err := r.reminders.UpdateStatus(ctx, task.ID, model.ReminderStatusCancelled); err != nil {
			return 0, err
		}
	}

	if err := r.reminders.ResetEntityReminderFlags(ctx, entityID); err != nil {
		return 0, err
	}

	r.log.Info().Str("entity_id", entityID).Int("cancelled", len(pending)).Msg("entity rescheduled")
	return len(pending), nil
}
