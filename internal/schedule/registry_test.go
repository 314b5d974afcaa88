package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/dispatch"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

type fakeOrch struct {
	started   []string
	cancelled []string
	cancelErr error
	cancelRes workflow.CancelResult
	startErr  error
}

func (f *fakeOrch) Start(ctx context.Context, t model.WorkflowType, workflowID string, input interface{}) (*model.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, workflowID)
	return &model.WorkflowRun{ID: "run_" + workflowID, WorkflowType: t, WorkflowID: workflowID}, nil
}

func (f *fakeOrch) Cancel(ctx context.Context, storedID string) (workflow.CancelResult, error) {
	f.cancelled = append(f.cancelled, storedID)
	if f.cancelErr != nil {
		return workflow.CancelResult{}, f.cancelErr
	}
	return f.cancelRes, nil
}

type fakeReminders struct {
	tasks      map[string]*model.ReminderTask
	flagsReset []string
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{tasks: make(map[string]*model.ReminderTask)}
}

func (f *fakeReminders) Create(ctx context.Context, task *model.ReminderTask) error {
	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

func (f *fakeReminders) BindRun(ctx context.Context, id, runID string, issuer model.RunIssuer) error {
	task, ok := f.tasks[id]
	if !ok {
		return errors.New("no such reminder")
	}
	task.BoundRunID = &runID
	task.RunIssuer = issuer
	return nil
}

func (f *fakeReminders) ListPendingByEntity(ctx context.Context, entityID string) ([]*model.ReminderTask, error) {
	var out []*model.ReminderTask
	for _, task := range f.tasks {
		if task.RelatedEntityID == entityID && task.Status == model.ReminderStatusPending {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeReminders) UpdateStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	task, ok := f.tasks[id]
	if !ok {
		return errors.New("no such reminder")
	}
	task.Status = status
	return nil
}

func (f *fakeReminders) ResetEntityReminderFlags(ctx context.Context, entityID string) error {
	f.flagsReset = append(f.flagsReset, entityID)
	return nil
}

func scheduleRequest() ScheduleRequest {
	return ScheduleRequest{
		TenantID:        "t-1",
		RelatedEntityID: "appt-1",
		ScheduledFor:    time.Now().Add(24 * time.Hour),
		Send: delivery.SendInput{
			TenantID:  "t-1",
			Recipient: dispatch.Recipient{ContactID: "c-1", Email: "user@example.com"},
			Subject:   "Reminder",
			TextBody:  "See you tomorrow",
		},
	}
}

func TestScheduleBindsRun(t *testing.T) {
	orch := &fakeOrch{}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	task, err := reg.Schedule(context.Background(), scheduleRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(task.ID, "rem_"))
	require.NotNil(t, task.BoundRunID)
	assert.Equal(t, model.IssuerOrchestrator, task.RunIssuer)

	require.Len(t, orch.started, 1)
	assert.Equal(t, "reminder:"+task.ID, orch.started[0])

	stored := store.tasks[task.ID]
	require.NotNil(t, stored)
	require.NotNil(t, stored.BoundRunID)
	assert.Equal(t, *task.BoundRunID, *stored.BoundRunID)
}

func TestScheduleStartFailureSurfaces(t *testing.T) {
	orch := &fakeOrch{startErr: errors.New("engine down")}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	_, err := reg.Schedule(context.Background(), scheduleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start reminder workflow")
}

func TestRescheduleCancelsAllPending(t *testing.T) {
	orch := &fakeOrch{cancelRes: workflow.CancelResult{Success: true}}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	for i := 0; i < 3; i++ {
		_, err := reg.Schedule(context.Background(), scheduleRequest())
		require.NoError(t, err)
	}

	n, err := reg.Reschedule(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, orch.cancelled, 3)
	for _, task := range store.tasks {
		assert.Equal(t, model.ReminderStatusCancelled, task.Status)
	}
	assert.Equal(t, []string{"appt-1"}, store.flagsReset)
}

func TestRescheduleMarksCancelledWhenLiveCancelFails(t *testing.T) {
	orch := &fakeOrch{}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	task, err := reg.Schedule(context.Background(), scheduleRequest())
	require.NoError(t, err)

	orch.cancelErr = errors.New("run store unavailable")
	n, err := reg.Reschedule(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// Stored status wins even when the live run could not be cancelled
	assert.Equal(t, model.ReminderStatusCancelled, store.tasks[task.ID].Status)
}

func TestRescheduleSkipsLegacyBoundRuns(t *testing.T) {
	orch := &fakeOrch{cancelRes: workflow.CancelResult{Success: true}}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	legacyRun := "8675309"
	store.tasks["rem_legacy"] = &model.ReminderTask{
		ID:              "rem_legacy",
		TenantID:        "t-1",
		RelatedEntityID: "appt-1",
		Status:          model.ReminderStatusPending,
		BoundRunID:      &legacyRun,
		RunIssuer:       model.IssuerLegacy,
	}

	n, err := reg.Reschedule(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// Legacy runs are never dispatched to the orchestrator
	assert.Empty(t, orch.cancelled)
	assert.Equal(t, model.ReminderStatusCancelled, store.tasks["rem_legacy"].Status)
}

func TestRescheduleNoPending(t *testing.T) {
	orch := &fakeOrch{}
	store := newFakeReminders()
	reg := NewRegistry(orch, store, logger.New("error", "text"))

	n, err := reg.Reschedule(context.Background(), "appt-unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"appt-unknown"}, store.flagsReset)
}
