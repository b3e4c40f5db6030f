package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStep() *StepExecution {
	return NewStepExecution("reserve-inventory", "Reserve Inventory", "inventory-service", "reserve", 1, map[string]any{"sku": "A1"}, 5*time.Second)
}

func TestStepLifecycle(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	assert.Equal(t, StepStatusPending, step.Status)
	require.NoError(t, step.Start(clk.Now()))
	assert.Equal(t, StepStatusExecuting, step.Status)
	assert.True(t, IsInvalidState(step.Start(clk.Now())))

	clk.advance(20 * time.Millisecond)
	result := SuccessResult(step.StepID, map[string]any{"reserved": true}, 20*time.Millisecond, clk.Now())
	require.NoError(t, step.MarkCompleted(result, clk.Now()))

	assert.Equal(t, StepStatusCompleted, step.Status)
	assert.Equal(t, map[string]any{"reserved": true}, step.Output)
	assert.Equal(t, int64(20), step.DurationMs)
	assert.True(t, step.IsTerminal())
}

func TestStepRetryBookkeepingOnRestart(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	require.NoError(t, step.Start(clk.Now()))
	step.MarkFailed(NewWorkflowError(ErrorKindTimeout, step.StepID, step.ServiceName, "TIMEOUT", "slow", clk.Now()), clk.Now())

	assert.True(t, step.CanRetry())
	require.NoError(t, step.Retry())
	assert.Equal(t, StepStatusPending, step.Status)
	assert.Nil(t, step.LastError)
	assert.Nil(t, step.StartedAt)
	assert.Equal(t, 0, step.RetryCount)

	// The budget is charged when the retried step starts again.
	require.NoError(t, step.Start(clk.Now()))
	assert.Equal(t, 1, step.RetryCount)
	assert.Equal(t, 2, step.RetriesRemaining)

	// Failed steps restart straight from FAILED; the retry budget is charged
	// on that start too.
	step2 := newTestStep()
	require.NoError(t, step2.Start(clk.Now()))
	step2.MarkFailed(NewWorkflowError(ErrorKindNetwork, step2.StepID, step2.ServiceName, "NET", "down", clk.Now()), clk.Now())
	require.NoError(t, step2.Start(clk.Now()))
	assert.Equal(t, 1, step2.RetryCount)
	assert.Equal(t, 2, step2.RetriesRemaining)
}

func TestStepRetryBudgetExhaustion(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()
	step.RetriesRemaining = 1

	require.NoError(t, step.Start(clk.Now()))
	step.MarkFailed(NewWorkflowError(ErrorKindTimeout, step.StepID, step.ServiceName, "TIMEOUT", "slow", clk.Now()), clk.Now())
	assert.True(t, step.CanRetry())

	require.NoError(t, step.Start(clk.Now()))
	assert.Equal(t, 0, step.RetriesRemaining)

	step.MarkFailed(NewWorkflowError(ErrorKindTimeout, step.StepID, step.ServiceName, "TIMEOUT", "slow", clk.Now()), clk.Now())
	assert.False(t, step.CanRetry())
	assert.True(t, IsInvalidState(step.Retry()))
}

func TestStepPolicyGatesRetry(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()
	step.Policy = RetryPolicy{MaxRetries: 0, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2, Exponential: true}

	require.NoError(t, step.Start(clk.Now()))
	step.MarkFailed(NewWorkflowError(ErrorKindTimeout, step.StepID, step.ServiceName, "TIMEOUT", "slow", clk.Now()), clk.Now())

	assert.False(t, step.CanRetry())
}

func TestStepTimeoutDetection(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	assert.False(t, step.HasTimedOut(clk.Now()))

	require.NoError(t, step.Start(clk.Now()))
	assert.False(t, step.HasTimedOut(clk.Now().Add(time.Second)))
	assert.True(t, step.HasTimedOut(clk.Now().Add(6*time.Second)))
}

func TestStepSkip(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	step.Skip("feature disabled", clk.Now())
	assert.Equal(t, StepStatusSkipped, step.Status)
	assert.Equal(t, map[string]any{"skipped": true, "reason": "feature disabled"}, step.Output)
	assert.True(t, step.IsTerminal())
}

func TestStepCompensationLifecycle(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()
	step.Compensation = ReverseOperation(step.StepID, step.ServiceName, "release", nil)

	// Only completed steps compensate.
	assert.True(t, IsInvalidState(step.Compensate()))

	require.NoError(t, step.Start(clk.Now()))
	require.NoError(t, step.MarkCompleted(SuccessResult(step.StepID, nil, 0, clk.Now()), clk.Now()))
	assert.True(t, step.RequiresCompensation())

	require.NoError(t, step.Compensate())
	assert.Equal(t, StepStatusCompensating, step.Status)

	require.NoError(t, step.MarkCompensated(clk.Now()))
	assert.Equal(t, StepStatusCompensated, step.Status)
	assert.True(t, step.Compensated)
	require.NotNil(t, step.CompensatedAt)

	// Idempotent once compensated.
	require.NoError(t, step.MarkCompensated(clk.Now()))
}

func TestStepCompensatedOnlyViaCompensating(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	assert.True(t, IsInvalidState(step.MarkCompensated(clk.Now())))

	require.NoError(t, step.Start(clk.Now()))
	assert.True(t, IsInvalidState(step.MarkCompensated(clk.Now())))

	require.NoError(t, step.MarkCompleted(SuccessResult(step.StepID, nil, 0, clk.Now()), clk.Now()))
	assert.True(t, IsInvalidState(step.MarkCompensated(clk.Now())))
}

func TestStepWithoutCompensationDescriptor(t *testing.T) {
	clk := newStubClock()
	step := newTestStep()

	require.NoError(t, step.Start(clk.Now()))
	require.NoError(t, step.MarkCompleted(SuccessResult(step.StepID, nil, 0, clk.Now()), clk.Now()))

	assert.False(t, step.RequiresCompensation())
	assert.True(t, IsInvalidState(step.Compensate()))
}
