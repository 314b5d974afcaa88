package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
)

var testLog = logger.New("error", "text")

func testRun(cancelRequested bool) *model.WorkflowRun {
	return &model.WorkflowRun{
		ID:              "run_9c1d2f80-93ab-4a58-8a9f-47d14be0a001",
		WorkflowID:      "wf-1",
		Status:          model.RunStatusRunning,
		CancelRequested: cancelRequested,
		StartedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func scheduledEvent(seq int, name string, input string) model.RunEvent {
	payload, _ := json.Marshal(activityScheduledPayload{Input: json.RawMessage(input)})
	return model.RunEvent{
		RunID:     "run_9c1d2f80-93ab-4a58-8a9f-47d14be0a001",
		Seq:       seq,
		Type:      model.EventActivityScheduled,
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
	}
}

func completedEvent(seq int, name string, result string) model.RunEvent {
	return model.RunEvent{
		Seq:       seq,
		Type:      model.EventActivityCompleted,
		Name:      name,
		Payload:   json.RawMessage(result),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC),
	}
}

func TestExecuteActivityFirstPassSuspends(t *testing.T) {
	c := newContext(testRun(false), nil, testLog)

	err := c.ExecuteActivity("send_email", map[string]string{"to": "a@example.com"}, nil)
	require.True(t, suspended(err))

	require.NotNil(t, c.pending)
	assert.Equal(t, 1, c.pending.seq)
	assert.Equal(t, model.EventActivityScheduled, c.pending.event)
	assert.Equal(t, "send_email", c.pending.name)
}

func TestExecuteActivityInFlightSuspendsWithoutNewCommand(t *testing.T) {
	history := []model.RunEvent{scheduledEvent(1, "send_email", `{}`)}
	c := newContext(testRun(false), history, testLog)

	err := c.ExecuteActivity("send_email", nil, nil)
	require.True(t, suspended(err))
	assert.Nil(t, c.pending)
}

func TestExecuteActivityReplaysResult(t *testing.T) {
	history := []model.RunEvent{
		scheduledEvent(1, "send_email", `{}`),
		completedEvent(2, "send_email", `{"provider":"gmail","messageId":"m-1"}`),
	}
	c := newContext(testRun(false), history, testLog)

	var out struct {
		Provider  string `json:"provider"`
		MessageID string `json:"messageId"`
	}
	require.NoError(t, c.ExecuteActivity("send_email", nil, &out))
	assert.Equal(t, "gmail", out.Provider)
	assert.Equal(t, "m-1", out.MessageID)

	// The next step is new and suspends as usual
	err := c.ExecuteActivity("reconcile_intent", nil, nil)
	require.True(t, suspended(err))
	assert.Equal(t, 3, c.pending.seq)
}

func TestExecuteActivityReplaysFailure(t *testing.T) {
	failed, _ := json.Marshal(activityFailedPayload{Error: "mailbox unavailable", Attempts: 3})
	history := []model.RunEvent{
		scheduledEvent(1, "send_email", `{}`),
		{Seq: 2, Type: model.EventActivityFailed, Name: "send_email", Payload: failed},
	}
	c := newContext(testRun(false), history, testLog)

	err := c.ExecuteActivity("send_email", nil, nil)
	var actErr *ActivityError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, "send_email", actErr.Activity)
	assert.Equal(t, 3, actErr.Attempts)
	assert.Equal(t, "mailbox unavailable", actErr.Message)
}

func TestExecuteActivityCancelBeforeNewStep(t *testing.T) {
	c := newContext(testRun(true), nil, testLog)

	err := c.ExecuteActivity("send_email", nil, nil)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestExecuteActivityCancelWaitsForInFlightActivity(t *testing.T) {
	// Cancellation arrived while the activity is in flight: the run suspends
	// and waits for the activity's outcome instead of cancelling mid-send.
	history := []model.RunEvent{scheduledEvent(1, "send_email", `{}`)}
	c := newContext(testRun(true), history, testLog)

	err := c.ExecuteActivity("send_email", nil, nil)
	assert.True(t, suspended(err))
}

func TestSleepLifecycle(t *testing.T) {
	until := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// First pass starts the timer
	c := newContext(testRun(false), nil, testLog)
	err := c.Sleep(until)
	require.True(t, suspended(err))
	require.NotNil(t, c.pending)
	assert.Equal(t, model.EventTimerStarted, c.pending.event)

	var p timerPayload
	require.NoError(t, json.Unmarshal(c.pending.payload, &p))
	assert.True(t, p.Until.Equal(until))

	started := model.RunEvent{Seq: 1, Type: model.EventTimerStarted, Payload: c.pending.payload}

	// Mid-wait pass suspends again
	c = newContext(testRun(false), []model.RunEvent{started}, testLog)
	assert.True(t, suspended(c.Sleep(until)))

	// Fired timer lets the run proceed
	fired := model.RunEvent{Seq: 2, Type: model.EventTimerFired}
	c = newContext(testRun(false), []model.RunEvent{started, fired}, testLog)
	assert.NoError(t, c.Sleep(until))
}

func TestSleepCancelledMidWait(t *testing.T) {
	until := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(timerPayload{Until: until})
	started := model.RunEvent{Seq: 1, Type: model.EventTimerStarted, Payload: payload}

	c := newContext(testRun(true), []model.RunEvent{started}, testLog)
	assert.ErrorIs(t, c.Sleep(until), ErrCancelled)
}

func TestNonDeterministicReplayDetected(t *testing.T) {
	// History says a timer was started, but the code issues an activity
	payload, _ := json.Marshal(timerPayload{Until: time.Now()})
	history := []model.RunEvent{{Seq: 1, Type: model.EventTimerStarted, Payload: payload}}
	c := newContext(testRun(false), history, testLog)

	err := c.ExecuteActivity("send_email", nil, nil)
	require.Error(t, err)
	assert.False(t, suspended(err))
	assert.Contains(t, err.Error(), "non-deterministic")
}

func TestNowIsDeterministic(t *testing.T) {
	run := testRun(false)
	c := newContext(run, nil, testLog)
	assert.Equal(t, run.StartedAt, c.Now())

	history := []model.RunEvent{
		scheduledEvent(1, "send_email", `{}`),
		completedEvent(2, "send_email", `{}`),
	}
	c = newContext(run, history, testLog)
	require.NoError(t, c.ExecuteActivity("send_email", nil, nil))
	assert.Equal(t, history[1].CreatedAt, c.Now())
}

func TestIsControl(t *testing.T) {
	assert.True(t, IsControl(errSuspend))
	assert.True(t, IsControl(ErrCancelled))
	assert.False(t, IsControl(&ActivityError{Activity: "send_email"}))
	assert.False(t, IsControl(nil))
}
