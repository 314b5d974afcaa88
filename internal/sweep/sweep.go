package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/dispatch"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

const pageSize = 200

// IntentStore is the slice of IntentRepository the sweep needs
type IntentStore interface {
	ListStuckPending(ctx context.Context, grace time.Duration, limit int) ([]*model.DeliveryIntent, error)
	Reconcile(ctx context.Context, id string, status model.IntentStatus, provider, providerMessageID *string) error
}

// Starter submits a fresh workflow. Satisfied by workflow.Engine.
type Starter interface {
	Start(ctx context.Context, t model.WorkflowType, workflowID string, input interface{}) (*model.WorkflowRun, error)
}

// Sweeper periodically settles delivery intents that stayed pending past the
// grace window. A pending intent that old means the process died between the
// insert and the send confirmation, so nobody will ever reconcile it.
type Sweeper struct {
	intents IntentStore
	starter Starter
	grace   time.Duration
	requeue bool
	log     *logger.Logger
}

// NewSweeper creates a new Sweeper
func NewSweeper(intents IntentStore, starter Starter, cfg config.DeliveryConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		intents: intents,
		starter: starter,
		grace:   cfg.StuckPendingGrace,
		requeue: cfg.SweepRequeue,
		log:     log.WithComponent("sweep"),
	}
}

// Schedule registers the sweep on a cron runner using the configured
// expression. The caller owns starting and stopping the runner.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("sweep pass failed")
		}
	})
}

// Sweep runs one pass and returns how many intents it settled.
//
// Whether the email actually went out before the crash is unknowable from
// here, so the intent is marked failed rather than guessed sent. Categories
// that are safe to deliver twice may optionally be resubmitted as fresh
// immediate sends.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.intents.ListStuckPending(ctx, s.grace, pageSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, intent := range stuck {
		if err := s.intents.Reconcile(ctx, intent.ID, model.IntentStatusFailed, nil, nil); err != nil {
			s.log.Error().Err(err).Str("intent_id", intent.ID).Msg("failed to settle stuck intent")
			continue
		}
		settled++

		s.log.Warn().
			Str("intent_id", intent.ID).
			Str("run_id", intent.RunID).
			Str("category", string(intent.Category)).
			Time("created_at", intent.CreatedAt).
			Msg("stuck pending intent marked failed")

		if s.requeue && intent.RequeueSafe() {
			s.resubmit(ctx, intent)
		}
	}
	return settled, nil
}

// resubmit starts a fresh immediate send for a settled intent. The workflow
// id is derived from the intent id so repeated sweeps of the same intent
// collapse into one resubmission.
func (s *Sweeper) resubmit(ctx context.Context, intent *model.DeliveryIntent) {
	in := delivery.SendInput{
		TenantID: intent.TenantID,
		Recipient: dispatch.Recipient{
			Email: intent.Recipient,
		},
		From:     intent.Sender,
		Subject:  intent.Subject,
		HTMLBody: intent.HTMLBody,
		TextBody: intent.TextBody,
		Category: intent.Category,
	}
	if intent.RelatedEntityID != nil {
		in.RelatedEntityID = *intent.RelatedEntityID
	}

	run, err := s.starter.Start(ctx, model.WorkflowTypeImmediateSend, "sweep:"+intent.ID, in)
	if errors.Is(err, workflow.ErrAlreadyExists) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("intent_id", intent.ID).Msg("failed to resubmit stuck intent")
		return
	}
	s.log.Info().Str("intent_id", intent.ID).Str("run_id", run.ID).Msg("stuck intent resubmitted")
}
