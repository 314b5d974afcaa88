package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/logger"
)

func configFixture() config.RetryConfig {
	return config.RetryConfig{
		Send: config.RetryPolicyConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Factor:         2,
			MaxAttempts:    3,
			StartToClose:   30 * time.Second,
		},
		Reconcile: config.RetryPolicyConfig{
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			Factor:         2,
			MaxAttempts:    8,
			StartToClose:   15 * time.Second,
		},
	}
}

var testLog = logger.New("error", "text")

func testExecutor() (*Executor, *[]time.Duration) {
	e := NewExecutor(testLog)
	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return e, &sleeps
}

var quickPolicy = RetryPolicy{
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
	Factor:         2,
	MaxAttempts:    3,
	StartToClose:   time.Minute,
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	e, sleeps := testExecutor()

	result, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	}, nil, quickPolicy, 0, nil)

	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(result))
	assert.Empty(t, *sleeps)
}

func TestExecuteRetriesWithExponentialBackoff(t *testing.T) {
	e, sleeps := testExecutor()

	attempts := 0
	result, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`{}`), nil
	}, nil, quickPolicy, 0, nil)

	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestExecuteBackoffCapped(t *testing.T) {
	e, sleeps := testExecutor()

	policy := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		Factor:         2,
		MaxAttempts:    5,
	}
	_, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("transient")
	}, nil, policy, 0, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	// 1s, 2s, then capped at 3s
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, *sleeps)
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	e, _ := testExecutor()

	last := errors.New("mailbox unavailable")
	attempts := 0
	_, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		attempts++
		return nil, last
	}, nil, quickPolicy, 0, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, exhausted, last)
}

func TestExecuteTerminalErrorShortCircuits(t *testing.T) {
	e, sleeps := testExecutor()

	bad := errors.New("recipient email is invalid")
	attempts := 0
	_, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		attempts++
		return nil, Terminal(bad)
	}, nil, quickPolicy, 0, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, exhausted, bad)
	assert.Empty(t, *sleeps)
}

func TestExecuteStartToCloseTimeout(t *testing.T) {
	e, _ := testExecutor()

	policy := RetryPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Factor:         1,
		MaxAttempts:    2,
		StartToClose:   10 * time.Millisecond,
	}
	_, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, policy, 0, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, exhausted, context.DeadlineExceeded)
}

func TestExecuteLostHeartbeatAbandonsClaim(t *testing.T) {
	e := NewExecutor(testLog)

	started := make(chan struct{})
	heartbeat := func(ctx context.Context) error {
		return errors.New("claim lost")
	}
	_, err := e.Execute(context.Background(), "send", func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, RetryPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Factor:         1,
		MaxAttempts:    1,
		StartToClose:   5 * time.Second,
	}, time.Millisecond, heartbeat)

	<-started
	// Not an ExhaustedError: the engine returns the task to the queue
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoliciesFromConfig(t *testing.T) {
	policies := PoliciesFromConfig(configFixture())
	require.Contains(t, policies, PolicySend)
	require.Contains(t, policies, PolicyReconcile)
	assert.Equal(t, 3, policies[PolicySend].MaxAttempts)
	assert.Equal(t, 8, policies[PolicyReconcile].MaxAttempts)
	assert.Equal(t, 5*time.Minute, policies[PolicyReconcile].MaxBackoff)
}
