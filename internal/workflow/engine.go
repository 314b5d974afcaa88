package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/activity"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/repository"
)

// RunStore is the durable run and history persistence the engine needs.
// Satisfied by repository.RunRepository.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	GetRunByWorkflowID(ctx context.Context, workflowID string) (*model.WorkflowRun, error)
	MarkRunning(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, status model.RunStatus, output []byte, lastError *string) error
	RequestCancel(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, ev *model.RunEvent) error
	ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error)
}

// TaskQueue is the shared queue the worker pool polls. Satisfied by
// repository.TaskRepository.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *model.Task) error
	Claim(ctx context.Context, workerID string) (*model.Task, error)
	Heartbeat(ctx context.Context, taskID int64, workerID string) error
	Complete(ctx context.Context, taskID int64) error
	Fail(ctx context.Context, taskID int64, errMsg string) error
	RetryAt(ctx context.Context, taskID int64, runAt time.Time, errMsg string) error
	// HasLive reports whether a pending or running task exists for a step
	HasLive(ctx context.Context, runID string, seq int) (bool, error)
}

// Options tunes the engine's worker pool
type Options struct {
	WorkerCount  int
	PollInterval time.Duration
	LockLease    time.Duration
}

// CancelResult is the structured outcome of a cancellation request
type CancelResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type activityReg struct {
	handler activity.Handler
	class   activity.PolicyClass
}

// Engine is the durable, replay-based workflow orchestrator. Execution state
// is persisted after every step; a crashed process replays each run's history
// on restart and resumes exactly where it left off, re-issuing only steps
// that had not durably completed.
type Engine struct {
	runs     RunStore
	tasks    TaskQueue
	exec     *activity.Executor
	policies map[activity.PolicyClass]activity.RetryPolicy
	opts     Options
	log      *logger.Logger

	mu         sync.RWMutex
	workflows  map[model.WorkflowType]Fn
	activities map[string]activityReg
}

// NewEngine creates a new Engine
func NewEngine(runs RunStore, tasks TaskQueue, exec *activity.Executor, policies map[activity.PolicyClass]activity.RetryPolicy, opts Options, log *logger.Logger) *Engine {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LockLease <= 0 {
		opts.LockLease = 5 * time.Minute
	}
	return &Engine{
		runs:       runs,
		tasks:      tasks,
		exec:       exec,
		policies:   policies,
		opts:       opts,
		log:        log.WithComponent("workflow"),
		workflows:  make(map[model.WorkflowType]Fn),
		activities: make(map[string]activityReg),
	}
}

// RegisterWorkflow registers the run function for a workflow type
func (e *Engine) RegisterWorkflow(t model.WorkflowType, fn Fn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[t] = fn
}

// RegisterActivity registers an activity handler under a retry policy class
func (e *Engine) RegisterActivity(name string, class activity.PolicyClass, handler activity.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = activityReg{handler: handler, class: class}
}

// Start submits a new workflow run. workflowID is the caller's logical id
// and doubles as the idempotency key: resubmitting it returns the existing
// run with ErrAlreadyExists.
func (e *Engine) Start(ctx context.Context, t model.WorkflowType, workflowID string, input interface{}) (*model.WorkflowRun, error) {
	e.mu.RLock()
	_, registered := e.workflows[t]
	e.mu.RUnlock()
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, t)
	}

	in, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow input: %w", err)
	}

	now := time.Now()
	run := &model.WorkflowRun{
		ID:           NewRunID().String(),
		WorkflowID:   workflowID,
		WorkflowType: t,
		Input:        in,
		Status:       model.RunStatusQueued,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, getErr := e.runs.GetRunByWorkflowID(ctx, workflowID)
			if getErr != nil {
				return nil, getErr
			}
			return existing, ErrAlreadyExists
		}
		return nil, err
	}

	if err := e.enqueueWakeup(ctx, run.ID, now); err != nil {
		return nil, err
	}
	e.log.Info().Str("run_id", run.ID).Str("workflow_id", workflowID).Str("type", string(t)).Msg("workflow submitted")
	return run, nil
}

// Result returns the current state of a run by its logical workflow id
func (e *Engine) Result(ctx context.Context, workflowID string) (*model.WorkflowRun, error) {
	run, err := e.runs.GetRunByWorkflowID(ctx, workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return run, err
}

// Cancel requests cooperative cancellation of a run. The request is observed
// at the run's next suspension point; a run mid-activity finishes or times
// out that activity first. Identifiers not issued by this orchestrator are
// reported as not applicable, with no state mutation.
func (e *Engine) Cancel(ctx context.Context, storedID string) (CancelResult, error) {
	id := ParseRunID(storedID)
	if !id.Cancellable() {
		return CancelResult{Success: false, Reason: "not a cancellable run id"}, nil
	}

	if err := e.runs.RequestCancel(ctx, id.String()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return CancelResult{}, ErrNotFound
		}
		return CancelResult{}, err
	}
	// Wake the run so a durable sleep does not delay observation
	if err := e.enqueueWakeup(ctx, id.String(), time.Now()); err != nil {
		return CancelResult{}, err
	}
	e.log.Info().Str("run_id", id.String()).Msg("cancellation requested")
	return CancelResult{Success: true}, nil
}

// Signal delivers a named signal to a run. Cancellation is the only signal
// the supported workflow shapes consume.
func (e *Engine) Signal(ctx context.Context, workflowID, name string) error {
	if name != "cancel" {
		return fmt.Errorf("unsupported signal %q", name)
	}
	run, err := e.Result(ctx, workflowID)
	if err != nil {
		return err
	}
	_, err = e.Cancel(ctx, run.ID)
	return err
}

// Run starts the worker pool and blocks until ctx is done
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.opts.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%s-%d", uuid.NewString()[:8], i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (e *Engine) worker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything due before going back to sleep
			for {
				task, err := e.tasks.Claim(ctx, workerID)
				if err != nil {
					if ctx.Err() == nil {
						e.log.Error().Err(err).Msg("failed to claim task")
					}
					break
				}
				if task == nil {
					break
				}
				e.process(ctx, workerID, task)
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, workerID string, task *model.Task) {
	var err error
	switch task.Kind {
	case model.TaskKindWorkflow:
		err = e.processWorkflowTask(ctx, task)
	case model.TaskKindActivity:
		err = e.processActivityTask(ctx, workerID, task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil {
		e.log.Error().Err(err).Int64("task_id", task.ID).Str("run_id", task.RunID).Msg("task processing failed")
		// Infrastructure failure, not a workflow outcome: give the task back
		// with a short delay
		if retryErr := e.tasks.RetryAt(ctx, task.ID, time.Now().Add(10*time.Second), err.Error()); retryErr != nil {
			e.log.Error().Err(retryErr).Int64("task_id", task.ID).Msg("failed to release task")
		}
		return
	}
	if err := e.tasks.Complete(ctx, task.ID); err != nil {
		e.log.Error().Err(err).Int64("task_id", task.ID).Msg("failed to complete task")
	}
}

// processWorkflowTask runs one decision pass: replay history, advance the run
// function to its next suspension point or completion, persist what changed.
func (e *Engine) processWorkflowTask(ctx context.Context, task *model.Task) error {
	run, err := e.runs.GetRun(ctx, task.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		// Late wakeup, e.g. a timer firing after cancellation
		return nil
	}

	// A timer task carries the seq of its timer_started event; record the
	// firing before deciding. Duplicate appends from a reclaimed task are
	// ignored.
	if task.Seq > 0 {
		ev := &model.RunEvent{
			RunID:     run.ID,
			Seq:       task.Seq + 1,
			Type:      model.EventTimerFired,
			CreatedAt: time.Now(),
		}
		if err := e.runs.AppendEvent(ctx, ev); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
	}

	if run.Status == model.RunStatusQueued {
		if err := e.runs.MarkRunning(ctx, run.ID); err != nil {
			return err
		}
	}

	history, err := e.runs.ListEvents(ctx, run.ID)
	if err != nil {
		return err
	}

	e.mu.RLock()
	fn, ok := e.workflows[run.WorkflowType]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, run.WorkflowType)
	}

	c := newContext(run, history, e.log)
	output, fnErr := fn(c, run.Input)

	switch {
	case fnErr == nil:
		e.log.Info().Str("run_id", run.ID).Msg("workflow completed")
		return e.runs.CompleteRun(ctx, run.ID, model.RunStatusCompleted, output, nil)

	case suspended(fnErr):
		return e.persistPending(ctx, run.ID, c.pending, history)

	case errors.Is(fnErr, ErrCancelled):
		e.log.Info().Str("run_id", run.ID).Msg("workflow cancelled")
		return e.runs.CompleteRun(ctx, run.ID, model.RunStatusCancelled, nil, nil)

	default:
		// Unhandled error inside workflow logic terminates the run
		msg := fnErr.Error()
		e.log.Error().Err(fnErr).Str("run_id", run.ID).Msg("workflow failed")
		return e.runs.CompleteRun(ctx, run.ID, model.RunStatusFailed, nil, &msg)
	}
}

// persistPending makes the suspension durable: the step event first, then the
// queue task that will eventually produce its result. When the pass replayed
// into an already-scheduled step (duplicate wakeup, or a crash between event
// and task), it verifies a live task exists for that step and re-enqueues one
// if not.
func (e *Engine) persistPending(ctx context.Context, runID string, cmd *command, history []model.RunEvent) error {
	if cmd == nil {
		if len(history) == 0 {
			return fmt.Errorf("run %s suspended with empty history and no pending command", runID)
		}
		last := history[len(history)-1]
		live, err := e.tasks.HasLive(ctx, runID, last.Seq)
		if err != nil {
			return err
		}
		if live {
			return nil
		}
		e.log.Warn().Str("run_id", runID).Int("seq", last.Seq).Msg("re-enqueueing orphaned step task")
		return e.enqueueStepTask(ctx, runID, last.Seq, last.Type, last.Name, last.Payload)
	}

	ev := &model.RunEvent{
		RunID:     runID,
		Seq:       cmd.seq,
		Type:      cmd.event,
		Name:      cmd.name,
		Payload:   cmd.payload,
		CreatedAt: time.Now(),
	}
	if err := e.runs.AppendEvent(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Another worker already persisted this decision
			return nil
		}
		return err
	}
	return e.enqueueStepTask(ctx, runID, cmd.seq, cmd.event, cmd.name, cmd.payload)
}

func (e *Engine) enqueueStepTask(ctx context.Context, runID string, seq int, evType model.RunEventType, name string, payload json.RawMessage) error {
	task := &model.Task{
		RunID: runID,
		Seq:   seq,
	}
	switch evType {
	case model.EventActivityScheduled:
		var p activityScheduledPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode pending activity: %w", err)
		}
		task.Kind = model.TaskKindActivity
		task.Name = name
		task.Payload = p.Input
		task.RunAt = time.Now()
	case model.EventTimerStarted:
		var p timerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode pending timer: %w", err)
		}
		task.Kind = model.TaskKindWorkflow
		task.RunAt = p.Until
	default:
		return fmt.Errorf("unexpected pending event %s", evType)
	}
	return e.tasks.Enqueue(ctx, task)
}

// processActivityTask executes one activity under its retry policy and
// records the terminal outcome in the run history.
func (e *Engine) processActivityTask(ctx context.Context, workerID string, task *model.Task) error {
	run, err := e.runs.GetRun(ctx, task.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	e.mu.RLock()
	reg, ok := e.activities[task.Name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("activity %q not registered", task.Name)
	}
	policy, ok := e.policies[reg.class]
	if !ok {
		return fmt.Errorf("no retry policy for class %q", reg.class)
	}

	heartbeat := func(hbCtx context.Context) error {
		return e.tasks.Heartbeat(hbCtx, task.ID, workerID)
	}
	result, execErr := e.exec.Execute(ctx, task.Name, reg.handler, task.Payload, policy, e.opts.LockLease/3, heartbeat)

	ev := &model.RunEvent{
		RunID:     run.ID,
		Seq:       task.Seq + 1,
		CreatedAt: time.Now(),
		Name:      task.Name,
	}
	if execErr == nil {
		ev.Type = model.EventActivityCompleted
		ev.Payload = result
	} else {
		var exhausted *activity.ExhaustedError
		if !errors.As(execErr, &exhausted) {
			// Context cancellation or a lost claim: let the queue retry
			return execErr
		}
		payload, err := json.Marshal(activityFailedPayload{
			Error:    exhausted.Last.Error(),
			Attempts: exhausted.Attempts,
		})
		if err != nil {
			return err
		}
		ev.Type = model.EventActivityFailed
		ev.Payload = payload
	}

	if err := e.runs.AppendEvent(ctx, ev); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	return e.enqueueWakeup(ctx, run.ID, time.Now())
}

func (e *Engine) enqueueWakeup(ctx context.Context, runID string, at time.Time) error {
	return e.tasks.Enqueue(ctx, &model.Task{
		RunID: runID,
		Kind:  model.TaskKindWorkflow,
		RunAt: at,
	})
}
