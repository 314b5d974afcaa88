package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/logger"
)

// Handler executes one externally-impactful operation: send one email, call
// one internal HTTP endpoint. Handlers are impure and must be safe to retry.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// PolicyClass selects which retry policy an activity runs under
type PolicyClass string

// Policy classes. Send is short; reconcile is long because losing a
// reconciliation callback is worse than losing time.
const (
	PolicySend      PolicyClass = "send"
	PolicyReconcile PolicyClass = "reconcile"
)

// RetryPolicy bounds an activity's retries
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
	MaxAttempts    int
	// StartToClose is the per-attempt timeout
	StartToClose time.Duration
}

// PoliciesFromConfig maps the configured policy sections to their classes
func PoliciesFromConfig(cfg config.RetryConfig) map[PolicyClass]RetryPolicy {
	return map[PolicyClass]RetryPolicy{
		PolicySend:      policyFromConfig(cfg.Send),
		PolicyReconcile: policyFromConfig(cfg.Reconcile),
	}
}

func policyFromConfig(c config.RetryPolicyConfig) RetryPolicy {
	return RetryPolicy{
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Factor:         c.Factor,
		MaxAttempts:    c.MaxAttempts,
		StartToClose:   c.StartToClose,
	}
}

// TerminalError wraps an error that must not be retried, e.g. input
// validation the caller got wrong. Everything else is treated as transient.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks err as non-retryable
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// ExhaustedError is returned once the retry budget is spent
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Executor drives a single activity through its retry policy with a
// start-to-close timeout per attempt and a periodic heartbeat so the
// orchestrator can tell a working executor from a silently hung one.
type Executor struct {
	log *logger.Logger
	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a new Executor
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{
		log:   log.WithComponent("activity"),
		sleep: sleepCtx,
	}
}

// Execute runs handler under policy. heartbeat is invoked every
// heartbeatEvery while the activity is in flight; when it returns an error
// the executor assumes it lost its claim and stops.
func (e *Executor) Execute(
	ctx context.Context,
	name string,
	handler Handler,
	input json.RawMessage,
	policy RetryPolicy,
	heartbeatEvery time.Duration,
	heartbeat func(ctx context.Context) error,
) (json.RawMessage, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	if heartbeat != nil && heartbeatEvery > 0 {
		go func() {
			ticker := time.NewTicker(heartbeatEvery)
			defer ticker.Stop()
			for {
				select {
				case <-hbCtx.Done():
					return
				case <-ticker.C:
					if err := heartbeat(hbCtx); err != nil {
						e.log.Warn().Err(err).Str("activity", name).Msg("heartbeat lost, abandoning claim")
						stopHeartbeat()
						return
					}
				}
			}
		}()
	}

	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if hbCtx.Err() != nil {
			return nil, hbCtx.Err()
		}

		attemptCtx := hbCtx
		var cancel context.CancelFunc
		if policy.StartToClose > 0 {
			attemptCtx, cancel = context.WithTimeout(hbCtx, policy.StartToClose)
		}
		result, err := handler(attemptCtx, input)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		if hbCtx.Err() != nil {
			// Lost claim or shutdown, not an attempt outcome
			return nil, hbCtx.Err()
		}
		lastErr = err

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			e.log.Warn().Err(err).Str("activity", name).Int("attempt", attempt).Msg("activity failed terminally")
			return nil, &ExhaustedError{Attempts: attempt, Last: terminal.Err}
		}

		e.log.Warn().Err(err).Str("activity", name).Int("attempt", attempt).Msg("activity attempt failed")

		if attempt == policy.MaxAttempts {
			break
		}
		if err := e.sleep(hbCtx, backoff); err != nil {
			return nil, err
		}
		backoff = time.Duration(float64(backoff) * policy.Factor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return nil, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
