package domain

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	w.Version = 4

	require.NoError(t, w.Start())
	runStep(t, w, "reserve-inventory", clk)
	runStep(t, w, "assign-robot", clk)

	stepErr := NewWorkflowError(ErrorKindBusinessRuleViolation, "pick-items", "picking-service", "RULE", "blocked", clk.Now())
	require.NoError(t, w.StartStep("pick-items"))
	require.NoError(t, w.HandleStepFailure("pick-items", stepErr))
	require.NoError(t, w.Compensate())
	require.NoError(t, w.CompensateStep("assign-robot"))
	require.NoError(t, w.MarkStepCompensated("assign-robot"))

	data, err := json.Marshal(w.Snapshot())
	require.NoError(t, err)

	var snap WorkflowSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := FromSnapshot(snap, clk)

	assert.Equal(t, w.ID, restored.ID)
	assert.Equal(t, w.Status, restored.Status)
	assert.Equal(t, w.Priority, restored.Priority)
	assert.Equal(t, w.Version, restored.Version)
	assert.Equal(t, w.ExecutedSteps, restored.ExecutedSteps)
	assert.Equal(t, w.CompensatedSteps, restored.CompensatedSteps)
	assert.Equal(t, w.StepIDs(), restored.StepIDs())
	assert.Equal(t, len(w.Errors), len(restored.Errors))
	assert.Equal(t, w.Errors[0].Kind, restored.Errors[0].Kind)

	for _, id := range w.StepIDs() {
		original, _ := w.Step(id)
		rehydrated, ok := restored.Step(id)
		require.True(t, ok, "step %s missing after round trip", id)
		assert.Equal(t, original.Status, rehydrated.Status, "step %s status", id)
		assert.Equal(t, original.RetryCount, rehydrated.RetryCount)
		assert.Equal(t, original.RetriesRemaining, rehydrated.RetriesRemaining)
		assert.Equal(t, original.Compensated, rehydrated.Compensated)
	}

	// The rehydrated aggregate keeps enforcing its state machine.
	assert.True(t, IsInvalidState(restored.Start()))
}

func TestSnapshotExcludesPendingEvents(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	require.NotEmpty(t, w.PendingEvents())

	restored := FromSnapshot(w.Snapshot(), clk)
	assert.Empty(t, restored.PendingEvents())
}

func TestSnapshotPreservesRetryPending(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	require.NoError(t, w.StartStep("reserve-inventory"))

	stepErr := NewWorkflowError(ErrorKindTimeout, "reserve-inventory", "inventory-service", "TIMEOUT", "slow", clk.Now())
	require.NoError(t, w.HandleStepFailure("reserve-inventory", stepErr))
	require.NoError(t, w.RetryStep("reserve-inventory"))

	restored := FromSnapshot(w.Snapshot(), clk)
	step, ok := restored.Step("reserve-inventory")
	require.True(t, ok)

	require.NoError(t, step.Start(clk.Now().Add(time.Second)))
	assert.Equal(t, 1, step.RetryCount)
}
