package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func (c *stubClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func fulfillmentDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		DefinitionID: "order-fulfillment-v1",
		Name:         "Order Fulfillment",
		Type:         TypeOrderFulfillment,
		MaxRetries:   3,
		Steps: []StepDefinition{
			{
				StepID:         "reserve-inventory",
				StepName:       "Reserve Inventory",
				ServiceName:    "inventory-service",
				Operation:      "reserve",
				ExecutionOrder: 1,
				Compensation:   ReverseOperation("reserve-inventory", "inventory-service", "release", nil),
			},
			{
				StepID:         "assign-robot",
				StepName:       "Assign Robot",
				ServiceName:    "robotics-service",
				Operation:      "assign",
				ExecutionOrder: 2,
				Compensation:   ReverseOperation("assign-robot", "robotics-service", "unassign", nil),
			},
			{
				StepID:         "pick-items",
				StepName:       "Pick Items",
				ServiceName:    "picking-service",
				Operation:      "pick",
				ExecutionOrder: 3,
				Compensation:   ReverseOperation("pick-items", "picking-service", "unpick", nil),
			},
		},
	}
}

func newTestWorkflow(t *testing.T, clk Clock) *Workflow {
	t.Helper()
	w, err := NewWorkflow("wf-1", fulfillmentDefinition(), PriorityHigh, "tester", "corr-1", map[string]any{"orderId": "ord-1"}, clk)
	require.NoError(t, err)
	return w
}

func runStep(t *testing.T, w *Workflow, stepID string, clk *stubClock) {
	t.Helper()
	require.NoError(t, w.StartStep(stepID))
	result := SuccessResult(stepID, map[string]any{"done": true}, 10*time.Millisecond, clk.Now())
	require.NoError(t, w.ExecuteStep(stepID, result))
}

func eventTypes(w *Workflow) []string {
	events := w.PendingEvents()
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Metadata().EventType)
	}
	return out
}

func TestWorkflowHappyPath(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)

	require.NoError(t, w.Start())
	assert.Equal(t, WorkflowStatusExecuting, w.Status)
	assert.NotNil(t, w.StartedAt)

	for _, stepID := range []string{"reserve-inventory", "assign-robot", "pick-items"} {
		clk.advance(time.Second)
		runStep(t, w, stepID, clk)
	}

	assert.True(t, w.AllStepsCompleted())
	require.NoError(t, w.Complete())

	assert.Equal(t, WorkflowStatusCompleted, w.Status)
	assert.Equal(t, []string{"reserve-inventory", "assign-robot", "pick-items"}, w.ExecutedSteps)
	assert.Empty(t, w.CompensatedSteps)
	assert.Equal(t, []string{
		EventTypeWorkflowStarted,
		EventTypeWorkflowStepExecuted,
		EventTypeWorkflowStepExecuted,
		EventTypeWorkflowStepExecuted,
		EventTypeWorkflowCompleted,
	}, eventTypes(w))
}

func TestWorkflowStartRequiresPending(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)

	require.NoError(t, w.Start())
	err := w.Start()
	assert.True(t, IsInvalidState(err))
}

func TestWorkflowRejectsIllegalTransitions(t *testing.T) {
	clk := newStubClock()

	tests := []struct {
		name string
		call func(w *Workflow) error
	}{
		{"complete from pending", func(w *Workflow) error { return w.Complete() }},
		{"pause from pending", func(w *Workflow) error { return w.Pause() }},
		{"resume from pending", func(w *Workflow) error { return w.Resume() }},
		{"compensate from pending", func(w *Workflow) error { return w.Compensate() }},
		{"retry from pending", func(w *Workflow) error { return w.Retry() }},
		{"completeCompensation from pending", func(w *Workflow) error { return w.CompleteCompensation() }},
		{"failCompensation from pending", func(w *Workflow) error { return w.FailCompensation("x") }},
		{"fail from pending", func(w *Workflow) error { return w.Fail(NewWorkflowError(ErrorKindInternal, "", "", "X", "x", clk.Now())) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorkflow(t, clk)
			err := tt.call(w)
			assert.True(t, IsInvalidState(err), "expected invalid state, got %v", err)
			assert.Equal(t, WorkflowStatusPending, w.Status)
		})
	}
}

func TestExecuteStepRequiresExecutingStep(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	result := SuccessResult("reserve-inventory", nil, 0, clk.Now())
	err := w.ExecuteStep("reserve-inventory", result)
	assert.True(t, IsInvalidState(err))
}

func TestExecuteStepAdvancesCurrentStep(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	runStep(t, w, "reserve-inventory", clk)
	assert.Equal(t, "assign-robot", w.CurrentStepID)

	runStep(t, w, "assign-robot", clk)
	runStep(t, w, "pick-items", clk)
	assert.Equal(t, "", w.CurrentStepID)
}

func TestHandleStepFailureWithRetryBudget(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	require.NoError(t, w.StartStep("reserve-inventory"))

	stepErr := NewWorkflowError(ErrorKindTimeout, "reserve-inventory", "inventory-service", "TIMEOUT", "deadline exceeded", clk.Now())
	require.True(t, stepErr.Recoverable)
	require.NoError(t, w.HandleStepFailure("reserve-inventory", stepErr))

	assert.Equal(t, WorkflowStatusExecuting, w.Status)

	events := w.PendingEvents()
	last := events[len(events)-1].(*WorkflowStepFailedEvent)
	assert.True(t, last.WillRetry)
	assert.Equal(t, EventTypeWorkflowStepFailed, last.EventType)
}

func TestHandleStepFailureNonRecoverableFailsWorkflow(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	runStep(t, w, "reserve-inventory", clk)
	require.NoError(t, w.StartStep("assign-robot"))

	stepErr := NewWorkflowError(ErrorKindBusinessRuleViolation, "assign-robot", "robotics-service", "NO_ROBOT", "no robot available", clk.Now())
	require.False(t, stepErr.Recoverable)
	require.NoError(t, w.HandleStepFailure("assign-robot", stepErr))

	assert.Equal(t, WorkflowStatusFailed, w.Status)

	types := eventTypes(w)
	require.Contains(t, types, EventTypeWorkflowFailed)

	var failed *WorkflowFailedEvent
	for _, e := range w.PendingEvents() {
		if f, ok := e.(*WorkflowFailedEvent); ok {
			failed = f
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.CompensationRequired)
	assert.Equal(t, "assign-robot", failed.FailedStepID)
}

func TestCompensationReverseOrder(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	runStep(t, w, "reserve-inventory", clk)
	runStep(t, w, "assign-robot", clk)

	stepErr := NewWorkflowError(ErrorKindBusinessRuleViolation, "pick-items", "picking-service", "RULE", "aisle blocked", clk.Now())
	require.NoError(t, w.StartStep("pick-items"))
	require.NoError(t, w.HandleStepFailure("pick-items", stepErr))
	require.Equal(t, WorkflowStatusFailed, w.Status)

	require.NoError(t, w.Compensate())
	assert.Equal(t, WorkflowStatusCompensating, w.Status)

	var started *WorkflowCompensationStartedEvent
	for _, e := range w.PendingEvents() {
		if ev, ok := e.(*WorkflowCompensationStartedEvent); ok {
			started = ev
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, []string{"assign-robot", "reserve-inventory"}, started.StepsToCompensate)

	for _, step := range w.StepsRequiringCompensation() {
		require.NoError(t, w.CompensateStep(step.StepID))
		require.NoError(t, w.MarkStepCompensated(step.StepID))
	}
	require.NoError(t, w.CompleteCompensation())

	assert.Equal(t, WorkflowStatusCompensated, w.Status)
	assert.Equal(t, []string{"assign-robot", "reserve-inventory"}, w.CompensatedSteps)
	assert.Equal(t, []string{"reserve-inventory", "assign-robot"}, w.ExecutedSteps)

	var completed *WorkflowCompensationCompletedEvent
	for _, e := range w.PendingEvents() {
		if ev, ok := e.(*WorkflowCompensationCompletedEvent); ok {
			completed = ev
		}
	}
	require.NotNil(t, completed)
	assert.True(t, completed.Successful)
}

func TestMarkStepCompensatedIdempotent(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	runStep(t, w, "reserve-inventory", clk)
	stepErr := NewWorkflowError(ErrorKindDataIntegrity, "assign-robot", "robotics-service", "CORRUPT", "bad state", clk.Now())
	require.NoError(t, w.StartStep("assign-robot"))
	require.NoError(t, w.HandleStepFailure("assign-robot", stepErr))
	require.NoError(t, w.Compensate())

	require.NoError(t, w.CompensateStep("reserve-inventory"))
	require.NoError(t, w.MarkStepCompensated("reserve-inventory"))
	require.NoError(t, w.MarkStepCompensated("reserve-inventory"))

	assert.Equal(t, []string{"reserve-inventory"}, w.CompensatedSteps)
}

func TestFailCompensationStillTerminates(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	runStep(t, w, "reserve-inventory", clk)
	runStep(t, w, "assign-robot", clk)

	stepErr := NewWorkflowError(ErrorKindInternal, "pick-items", "picking-service", "BOOM", "exploded", clk.Now())
	require.NoError(t, w.StartStep("pick-items"))
	require.NoError(t, w.HandleStepFailure("pick-items", stepErr))
	require.NoError(t, w.Compensate())

	require.NoError(t, w.CompensateStep("assign-robot"))
	require.NoError(t, w.MarkStepCompensated("assign-robot"))

	require.NoError(t, w.FailCompensation("compensation failed for steps: reserve-inventory"))

	assert.Equal(t, WorkflowStatusCompensated, w.Status)
	assert.Equal(t, []string{"assign-robot"}, w.CompensatedSteps)

	var completed *WorkflowCompensationCompletedEvent
	for _, e := range w.PendingEvents() {
		if ev, ok := e.(*WorkflowCompensationCompletedEvent); ok {
			completed = ev
		}
	}
	require.NotNil(t, completed)
	assert.False(t, completed.Successful)
	assert.Contains(t, completed.ErrorMessage, "reserve-inventory")
}

func TestRetryBudgetEnforced(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	w.MaxRetries = 2
	require.NoError(t, w.Start())

	failErr := NewWorkflowError(ErrorKindInternal, "", "svc", "X", "fail", clk.Now())

	for i := 1; i <= 2; i++ {
		require.NoError(t, w.Fail(failErr))
		require.NoError(t, w.Retry())
		assert.Equal(t, i, w.RetryCount)
		assert.Equal(t, WorkflowStatusExecuting, w.Status)
		assert.Empty(t, w.Errors)
	}

	require.NoError(t, w.Fail(failErr))
	before := w.RetryCount
	err := w.Retry()
	assert.True(t, IsInvalidState(err))
	assert.Equal(t, before, w.RetryCount)
	assert.Equal(t, WorkflowStatusFailed, w.Status)
}

func TestCancelWins(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	require.NoError(t, w.Cancel("operator request"))

	assert.Equal(t, WorkflowStatusCancelled, w.Status)

	failErr := NewWorkflowError(ErrorKindInternal, "", "svc", "X", "fail", clk.Now())
	assert.True(t, IsInvalidState(w.Fail(failErr)))
	assert.True(t, IsInvalidState(w.ExecuteStep("reserve-inventory", StepResult{})))
	assert.True(t, IsInvalidState(w.Cancel("again")))
}

func TestCancelRejectedFromTerminal(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	for _, stepID := range []string{"reserve-inventory", "assign-robot", "pick-items"} {
		runStep(t, w, stepID, clk)
	}
	require.NoError(t, w.Complete())

	err := w.Cancel("too late")
	assert.True(t, IsInvalidState(err))
	assert.Equal(t, WorkflowStatusCompleted, w.Status)
}

func TestPauseResume(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())
	runStep(t, w, "reserve-inventory", clk)

	require.NoError(t, w.Pause())
	assert.Equal(t, WorkflowStatusPaused, w.Status)
	assert.True(t, IsInvalidState(w.ExecuteStep("assign-robot", StepResult{})))

	require.NoError(t, w.Resume())
	assert.Equal(t, WorkflowStatusExecuting, w.Status)

	var resumed *WorkflowResumedEvent
	for _, e := range w.PendingEvents() {
		if ev, ok := e.(*WorkflowResumedEvent); ok {
			resumed = ev
		}
	}
	require.NotNil(t, resumed)
	assert.Equal(t, "assign-robot", resumed.FromStepID)
}

func TestWavelessTransition(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)

	assert.False(t, w.CanTransitionToWaveless())
	require.NoError(t, w.Start())
	assert.True(t, w.CanTransitionToWaveless())

	require.NoError(t, w.TransitionToWaveless(10, time.Second))

	v, ok := w.Context.Get("wavelessEnabled")
	require.True(t, ok)
	assert.Equal(t, true, v)

	types := eventTypes(w)
	assert.Contains(t, types, EventTypeWavelessProcessingEnabled)
}

func TestWavelessRejectedForLowPriority(t *testing.T) {
	clk := newStubClock()
	w, err := NewWorkflow("wf-2", fulfillmentDefinition(), PriorityLow, "tester", "corr-2", nil, clk)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.False(t, w.CanTransitionToWaveless())
	assert.True(t, IsInvalidState(w.TransitionToWaveless(10, time.Second)))
}

func TestProgressAndUtilization(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	assert.Equal(t, 0.0, w.ProgressPercent())
	runStep(t, w, "reserve-inventory", clk)
	assert.InDelta(t, 33.3, w.ProgressPercent(), 0.1)

	require.NoError(t, w.StartStep("assign-robot"))
	assert.Equal(t, 1, w.ActiveSteps())
	assert.InDelta(t, 33.3, w.Utilization(), 0.1)

	load := w.CalculateSystemLoad()
	assert.Equal(t, w.ID, load.WorkflowID)
	assert.Equal(t, 1, load.ActiveSteps)
	assert.Equal(t, 3, load.TotalSteps)
	assert.InDelta(t, 33.3, load.Utilization, 0.1)
}

func TestHasTimedOut(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)

	assert.False(t, w.HasTimedOut(time.Minute))

	require.NoError(t, w.Start())
	clk.advance(2 * time.Minute)
	assert.True(t, w.HasTimedOut(time.Minute))

	require.NoError(t, w.Cancel("timeout"))
	assert.False(t, w.HasTimedOut(time.Minute))
}

func TestVersionCarriedOnEvents(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	w.Version = 7

	require.NoError(t, w.Start())
	events := w.PendingEvents()
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].Metadata().Version)
	assert.NotEmpty(t, events[0].Metadata().EventID)
}

func TestClearEvents(t *testing.T) {
	clk := newStubClock()
	w := newTestWorkflow(t, clk)
	require.NoError(t, w.Start())

	require.NotEmpty(t, w.PendingEvents())
	w.ClearEvents()
	assert.Empty(t, w.PendingEvents())
}
