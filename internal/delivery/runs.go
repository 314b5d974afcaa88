package delivery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dans3367/pigeonpost/internal/activity"
	"github.com/dans3367/pigeonpost/internal/dispatch"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

// Register wires the delivery workflows and activities into the engine
func Register(engine *workflow.Engine, acts *Activities) {
	engine.RegisterWorkflow(model.WorkflowTypeImmediateSend, ImmediateSendRun)
	engine.RegisterWorkflow(model.WorkflowTypeScheduledSend, ScheduledSendRun)
	engine.RegisterWorkflow(model.WorkflowTypeReminder, ScheduledSendRun)
	engine.RegisterWorkflow(model.WorkflowTypeBulkSend, BulkSendRun)

	engine.RegisterActivity(ActivitySendEmail, activity.PolicySend, acts.SendEmail)
	engine.RegisterActivity(ActivityReconcileIntent, activity.PolicyReconcile, acts.ReconcileIntent)
	engine.RegisterActivity(ActivityCompleteReminder, activity.PolicyReconcile, acts.CompleteReminder)
}

// sendOne drives one recipient through send and reconcile. Returns the
// send's *workflow.ActivityError when delivery failed terminally; a lost
// reconciliation is logged and swallowed because the email already left the
// building.
func sendOne(c *workflow.Context, in SendInput) (SendOutput, error) {
	id := intentID(c.RunID(), in.Recipient.Email)

	var sent sendEmailResult
	sendErr := c.ExecuteActivity(ActivitySendEmail, sendEmailInput{
		IntentID: id,
		RunID:    c.RunID(),
		Send:     in,
	}, &sent)

	var actErr *workflow.ActivityError
	if sendErr != nil && !errors.As(sendErr, &actErr) {
		// Suspension, cancellation or a decode problem
		return SendOutput{}, sendErr
	}

	rec := reconcileInput{
		IntentID:  id,
		TenantID:  in.TenantID,
		ContactID: in.Recipient.ContactID,
	}
	out := SendOutput{}
	if sendErr == nil {
		rec.Status = string(model.IntentStatusSent)
		rec.Provider = sent.Provider
		rec.MessageID = sent.MessageID
		out.Status = dispatch.StatusSent
		out.Provider = sent.Provider
		out.MessageID = sent.MessageID
	} else {
		rec.Status = string(model.IntentStatusFailed)
		rec.Error = actErr.Message
		out.Status = dispatch.StatusFailed
		out.Error = actErr.Message
	}

	if recErr := c.ExecuteActivity(ActivityReconcileIntent, rec, nil); recErr != nil {
		if workflow.IsControl(recErr) {
			return SendOutput{}, recErr
		}
		// Accepted inconsistency window: the intent stays pending and the
		// sweep picks it up past the grace window
		c.Logger().Error().Err(recErr).Str("intent_id", id).Msg("reconciliation failed")
	}

	return out, sendErr
}

// ImmediateSendRun sends one email right away
func ImmediateSendRun(c *workflow.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in SendInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("bad immediate-send input: %w", err)
	}

	out, err := sendOne(c, in)
	var actErr *workflow.ActivityError
	if err != nil && !errors.As(err, &actErr) {
		return nil, err
	}
	return json.Marshal(out)
}

// ScheduledSendRun durably waits until the scheduled instant, then sends.
// Cancellable at any point during the wait; this is how "send later" and
// appointment reminders work.
func ScheduledSendRun(c *workflow.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in ScheduledInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("bad scheduled-send input: %w", err)
	}

	if err := c.Sleep(in.ScheduledFor); err != nil {
		return nil, err
	}

	out, err := sendOne(c, in.SendInput)
	var actErr *workflow.ActivityError
	if err != nil && !errors.As(err, &actErr) {
		return nil, err
	}

	if in.ReminderID != "" {
		status := model.ReminderStatusSent
		if out.Status != dispatch.StatusSent {
			status = model.ReminderStatusFailed
		}
		if err := c.ExecuteActivity(ActivityCompleteReminder, completeReminderInput{
			ReminderID: in.ReminderID,
			Status:     status,
		}, nil); err != nil {
			if workflow.IsControl(err) {
				return nil, err
			}
			c.Logger().Error().Err(err).Str("reminder_id", in.ReminderID).Msg("failed to complete reminder")
		}
	}

	return json.Marshal(out)
}

// BulkSendRun fans a campaign out over sequential fixed-size batches. One
// recipient's permanent failure costs exactly one recipient; one bad batch
// costs one batch; neither aborts the run.
func BulkSendRun(c *workflow.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in BulkInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("bad bulk-send input: %w", err)
	}

	batches := dispatch.Split(in.Recipients, in.BatchSize)

	send := func(batch dispatch.Batch, r dispatch.Recipient) error {
		_, err := sendOne(c, SendInput{
			TenantID:        in.TenantID,
			Recipient:       r,
			From:            in.From,
			FromName:        in.FromName,
			Subject:         in.Subject,
			HTMLBody:        in.HTMLBody,
			TextBody:        in.TextBody,
			Category:        in.Category,
			RelatedEntityID: in.CampaignID,
		})
		return err
	}

	classify := func(err error) dispatch.Verdict {
		if workflow.IsControl(err) {
			return dispatch.VerdictAbort
		}
		var actErr *workflow.ActivityError
		if errors.As(err, &actErr) {
			return dispatch.VerdictRecipientFailed
		}
		return dispatch.VerdictBatchFailed
	}

	totals, err := dispatch.Run(batches, send, classify, c.Logger())
	if err != nil {
		return nil, err
	}

	return json.Marshal(BulkOutput{Totals: totals, Status: totals.Status()})
}
