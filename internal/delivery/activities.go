package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/activity"
	"github.com/dans3367/pigeonpost/internal/callback"
	"github.com/dans3367/pigeonpost/internal/email"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/repository"
)

// Activity names
const (
	ActivitySendEmail        = "send_email"
	ActivityReconcileIntent  = "reconcile_intent"
	ActivityCompleteReminder = "complete_reminder"
)

// IntentStore is the slice of IntentRepository the send activity needs
type IntentStore interface {
	CreatePending(ctx context.Context, intent *model.DeliveryIntent) error
}

// ReminderStore is the slice of ReminderRepository reminder runs need
type ReminderStore interface {
	UpdateStatus(ctx context.Context, id string, status model.ReminderStatus) error
}

// Reconciler is the signed channel back into the owning application.
// Satisfied by callback.Client.
type Reconciler interface {
	ReconcileIntent(ctx context.Context, req callback.ReconcileRequest) error
	AppendActivity(ctx context.Context, req callback.ActivityRequest) error
}

// Activities hosts the impure units of work the delivery workflows invoke
type Activities struct {
	gateway   *email.Gateway
	limiter   *email.Limiter
	intents   IntentStore
	reminders ReminderStore
	callbacks Reconciler
	log       *logger.Logger
}

// NewActivities creates the delivery activity set
func NewActivities(gateway *email.Gateway, limiter *email.Limiter, intents IntentStore, reminders ReminderStore, callbacks Reconciler, log *logger.Logger) *Activities {
	return &Activities{
		gateway:   gateway,
		limiter:   limiter,
		intents:   intents,
		reminders: reminders,
		callbacks: callbacks,
		log:       log.WithComponent("delivery"),
	}
}

// sendEmailInput is the wire input of the send_email activity
type sendEmailInput struct {
	IntentID string    `json:"intentId"`
	RunID    string    `json:"runId"`
	Send     SendInput `json:"send"`
}

// sendEmailResult is the wire output of the send_email activity
type sendEmailResult struct {
	Provider  string `json:"provider"`
	MessageID string `json:"messageId"`
}

// SendEmail records the delivery intent and performs one provider send.
// The intent insert happens strictly before the network call: if the process
// dies in between, the pending row is what the sweep finds later.
func (a *Activities) SendEmail(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in sendEmailInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, activity.Terminal(fmt.Errorf("bad send_email input: %w", err))
	}

	intent := &model.DeliveryIntent{
		ID:        in.IntentID,
		TenantID:  in.Send.TenantID,
		Recipient: in.Send.Recipient.Email,
		Sender:    in.Send.From,
		Subject:   in.Send.Subject,
		HTMLBody:  in.Send.HTMLBody,
		TextBody:  in.Send.TextBody,
		Category:  in.Send.Category,
		RunID:     in.RunID,
	}
	if in.Send.RelatedEntityID != "" {
		intent.RelatedEntityID = &in.Send.RelatedEntityID
	}
	if err := a.intents.CreatePending(ctx, intent); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		// Duplicate means a previous attempt got this far; the same intent
		// keeps anchoring the retry
		return nil, err
	}

	release, err := a.limiter.Acquire(ctx, a.gateway.Primary())
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := a.gateway.Send(ctx, email.Message{
		From:     in.Send.From,
		FromName: in.Send.FromName,
		To:       in.Send.Recipient.Email,
		Subject:  in.Send.Subject,
		HTMLBody: in.Send.HTMLBody,
		TextBody: in.Send.TextBody,
		Tags:     []string{string(in.Send.Category)},
		Metadata: map[string]string{"intentId": in.IntentID},
	})
	if err != nil {
		if errors.Is(err, email.ErrInvalidMessage) {
			return nil, activity.Terminal(err)
		}
		return nil, err
	}

	a.log.Info().
		Str("intent_id", in.IntentID).
		Str("provider", result.Provider).
		Str("to", in.Send.Recipient.Email).
		Msg("email sent")

	return json.Marshal(sendEmailResult{Provider: result.Provider, MessageID: result.MessageID})
}

// reconcileInput is the wire input of the reconcile_intent activity
type reconcileInput struct {
	IntentID  string `json:"intentId"`
	TenantID  string `json:"tenantId"`
	ContactID string `json:"contactId"`
	Status    string `json:"status"` // "sent" or "failed"
	Provider  string `json:"provider,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReconcileIntent settles the intent through the signed callback channel and
// appends the recipient's timeline entry. Both sides are idempotent, so the
// long reconcile retry policy can hammer away safely.
func (a *Activities) ReconcileIntent(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in reconcileInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, activity.Terminal(fmt.Errorf("bad reconcile_intent input: %w", err))
	}

	if err := a.callbacks.ReconcileIntent(ctx, callback.ReconcileRequest{
		EmailTrackingID:   in.IntentID,
		ProviderMessageID: in.MessageID,
		Provider:          in.Provider,
		Status:            in.Status,
	}); err != nil {
		return nil, err
	}

	activityType := model.ActivityEmailSent
	if in.Status != string(model.IntentStatusSent) {
		activityType = model.ActivityEmailFailed
	}
	data, _ := json.Marshal(map[string]string{
		"intentId":  in.IntentID,
		"provider":  in.Provider,
		"messageId": in.MessageID,
		"error":     in.Error,
	})
	if err := a.callbacks.AppendActivity(ctx, callback.ActivityRequest{
		TenantID:     in.TenantID,
		ContactID:    in.ContactID,
		ActivityType: activityType,
		ActivityData: data,
		OccurredAt:   time.Now(),
		WebhookID:    webhookID(in.IntentID, in.Status),
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// completeReminderInput is the wire input of the complete_reminder activity
type completeReminderInput struct {
	ReminderID string               `json:"reminderId"`
	Status     model.ReminderStatus `json:"status"`
}

// CompleteReminder writes the terminal status back to the ReminderTask
func (a *Activities) CompleteReminder(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in completeReminderInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, activity.Terminal(fmt.Errorf("bad complete_reminder input: %w", err))
	}
	if err := a.reminders.UpdateStatus(ctx, in.ReminderID, in.Status); err != nil {
		return nil, err
	}
	return nil, nil
}
