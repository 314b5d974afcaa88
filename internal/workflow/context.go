package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
)

// Fn is a registered run function. It must be deterministic given the run's
// persisted history: no wall-clock reads, randomness or direct I/O. All
// impure work goes through ExecuteActivity; time passes through Sleep.
type Fn func(c *Context, input json.RawMessage) (json.RawMessage, error)

// command is the side effect the engine persists when a decision pass
// suspends. Steps are strictly sequential, so at most one is pending.
type command struct {
	seq     int
	event   model.RunEventType // EventActivityScheduled or EventTimerStarted
	name    string
	payload json.RawMessage
}

// activityScheduledPayload is stored on activity_scheduled events
type activityScheduledPayload struct {
	Input json.RawMessage `json:"input"`
}

// activityFailedPayload is stored on activity_failed events
type activityFailedPayload struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// timerPayload is stored on timer_started events
type timerPayload struct {
	Until time.Time `json:"until"`
}

// Context is the deterministic API handed to a run function. One decision
// pass replays the persisted history from the top; steps whose results are
// recorded return immediately, and the first step without a result suspends
// the run.
type Context struct {
	runID           string
	history         []model.RunEvent
	cursor          int
	pending         *command
	cancelRequested bool
	startedAt       time.Time
	log             *logger.Logger
}

func newContext(run *model.WorkflowRun, history []model.RunEvent, log *logger.Logger) *Context {
	return &Context{
		runID:           run.ID,
		history:         history,
		cancelRequested: run.CancelRequested,
		startedAt:       run.StartedAt,
		log:             log.WithRunID(run.ID),
	}
}

// RunID returns the orchestrator-issued id of this run
func (c *Context) RunID() string {
	return c.runID
}

// Logger returns a logger scoped to this run. Logging is the one side effect
// run functions may perform directly; duplicate lines during replay are
// harmless.
func (c *Context) Logger() *logger.Logger {
	return c.log
}

// Now returns deterministic workflow time: the timestamp of the last replayed
// event, or the run's start time before any step completed. Identical on
// every replay of the same history.
func (c *Context) Now() time.Time {
	if c.cursor > 0 {
		return c.history[c.cursor-1].CreatedAt
	}
	return c.startedAt
}

// Cancelled reports whether cancellation has been requested. Honored
// automatically at every suspension point; exposed for run functions that
// want to stop between steps.
func (c *Context) Cancelled() bool {
	return c.cancelRequested
}

// ExecuteActivity runs one impure, retryable unit of work and blocks the run
// until its terminal outcome. The result is decoded into out when non-nil.
// A *ActivityError return means the activity exhausted its retry budget.
func (c *Context) ExecuteActivity(name string, input interface{}, out interface{}) error {
	scheduled, err := c.consume(model.EventActivityScheduled, name)
	if err != nil {
		return err
	}
	if scheduled == nil {
		// New step: replay is exhausted, cancellation wins over new work
		if c.cancelRequested {
			return ErrCancelled
		}
		in, err := json.Marshal(activityScheduledPayload{Input: mustJSON(input)})
		if err != nil {
			return fmt.Errorf("failed to encode activity input: %w", err)
		}
		c.pending = &command{
			seq:     c.nextSeq(),
			event:   model.EventActivityScheduled,
			name:    name,
			payload: in,
		}
		return errSuspend
	}

	if c.cursor >= len(c.history) {
		// Scheduled but still in flight. Cancellation is not honored here:
		// a run mid-activity finishes or times out that activity first.
		return errSuspend
	}
	result := c.history[c.cursor]
	c.cursor++

	switch result.Type {
	case model.EventActivityCompleted:
		if out != nil && len(result.Payload) > 0 {
			if err := json.Unmarshal(result.Payload, out); err != nil {
				return fmt.Errorf("failed to decode activity result: %w", err)
			}
		}
		return nil
	case model.EventActivityFailed:
		var p activityFailedPayload
		if err := json.Unmarshal(result.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode activity failure: %w", err)
		}
		return &ActivityError{Activity: name, Attempts: p.Attempts, Message: p.Error}
	default:
		return fmt.Errorf("history corrupt: unexpected event %s at seq %d", result.Type, result.Seq)
	}
}

// Sleep durably suspends the run until the given absolute instant. The run
// occupies no worker while waiting and can be cancelled at any point during
// the wait.
func (c *Context) Sleep(until time.Time) error {
	started, err := c.consume(model.EventTimerStarted, "")
	if err != nil {
		return err
	}
	if started == nil {
		if c.cancelRequested {
			return ErrCancelled
		}
		payload, err := json.Marshal(timerPayload{Until: until})
		if err != nil {
			return fmt.Errorf("failed to encode timer: %w", err)
		}
		c.pending = &command{
			seq:     c.nextSeq(),
			event:   model.EventTimerStarted,
			payload: payload,
		}
		return errSuspend
	}

	if c.cursor >= len(c.history) {
		// Mid-wait: this is where a reschedule cancellation lands
		if c.cancelRequested {
			return ErrCancelled
		}
		return errSuspend
	}
	fired := c.history[c.cursor]
	if fired.Type != model.EventTimerFired {
		return fmt.Errorf("history corrupt: unexpected event %s at seq %d", fired.Type, fired.Seq)
	}
	c.cursor++
	return nil
}

// consume advances over the next history event if it matches the expected
// step, or reports nil when the step is new. A mismatch means the run
// function is not deterministic.
func (c *Context) consume(expect model.RunEventType, name string) (*model.RunEvent, error) {
	if c.cursor >= len(c.history) {
		return nil, nil
	}
	ev := &c.history[c.cursor]
	if ev.Type != expect || (name != "" && ev.Name != name) {
		return nil, fmt.Errorf("non-deterministic workflow: history has %s %q at seq %d, code issued %s %q",
			ev.Type, ev.Name, ev.Seq, expect, name)
	}
	c.cursor++
	return ev, nil
}

func (c *Context) nextSeq() int {
	if n := len(c.history); n > 0 {
		return c.history[n-1].Seq + 1
	}
	return 1
}

// suspended reports whether err is the internal suspension sentinel
func suspended(err error) bool {
	return errors.Is(err, errSuspend)
}

func mustJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Activity inputs are plain structs built by run functions; a
		// marshal failure here is a programming error
		panic(fmt.Sprintf("unmarshalable activity input: %v", err))
	}
	return b
}
