package domain

import (
	"time"
)

// Workflow is the root aggregate for orchestration. It owns its steps, the
// executed/compensated logs, errors and the pending event queue; every
// mutation goes through its methods and all I/O stays outside.
type Workflow struct {
	ID            string
	DefinitionID  string
	Name          string
	Type          WorkflowType
	Status        WorkflowStatus
	Priority      WorkflowPriority
	CurrentStepID string
	TriggeredBy   string
	CorrelationID string

	Context *ExecutionContext
	Input   map[string]any
	Output  map[string]any

	ExecutedSteps    []string
	CompensatedSteps []string
	Errors           []WorkflowError

	RetryCount int
	MaxRetries int

	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  int64

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	steps     map[string]*StepExecution
	stepOrder []string
	events    []Event
	clock     Clock
}

func NewWorkflow(id string, def *WorkflowDefinition, priority WorkflowPriority, triggeredBy, correlationID string, input map[string]any, clock Clock) (*Workflow, error) {
	if clock == nil {
		clock = SystemClock()
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := clock.Now()
	w := &Workflow{
		ID:            id,
		DefinitionID:  def.DefinitionID,
		Name:          def.Name,
		Type:          def.Type,
		Status:        WorkflowStatusPending,
		Priority:      priority,
		TriggeredBy:   triggeredBy,
		CorrelationID: correlationID,
		Context:       NewExecutionContext(),
		Input:         input,
		MaxRetries:    def.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
		steps:         make(map[string]*StepExecution),
		clock:         clock,
	}
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}

	for _, sd := range def.StepsInOrder() {
		stepInput, err := mergeInputs(sd.DefaultInputs, input)
		if err != nil {
			return nil, err
		}

		step := NewStepExecution(sd.StepID, sd.StepName, sd.ServiceName, sd.Operation, sd.ExecutionOrder, stepInput, sd.Timeout)
		step.StepType = sd.StepType
		if sd.RetryPolicy != nil {
			step.Policy = *sd.RetryPolicy
			step.RetriesRemaining = sd.RetryPolicy.MaxRetries
		} else if def.DefaultRetryPolicy != nil {
			step.Policy = *def.DefaultRetryPolicy
			step.RetriesRemaining = def.DefaultRetryPolicy.MaxRetries
		}
		step.Compensation = def.CompensationFor(sd.StepID)

		w.steps[sd.StepID] = step
		w.stepOrder = append(w.stepOrder, sd.StepID)
	}

	return w, nil
}

func mergeInputs(defaults, overrides map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	if len(overrides) == 0 {
		return merged, nil
	}
	ctx := ExecutionContextFrom(merged)
	if err := ctx.Merge(overrides); err != nil {
		return nil, err
	}
	return ctx.Values(), nil
}

// Start moves the workflow from PENDING to EXECUTING.
func (w *Workflow) Start() error {
	if w.Status != WorkflowStatusPending {
		return NewInvalidStateError("workflow.start", "workflow %s is %s, can only start from pending", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusExecuting
	w.StartedAt = &now
	w.RetryCount = 0

	w.record(&WorkflowStartedEvent{
		EventMeta:     w.newMeta(EventTypeWorkflowStarted),
		WorkflowID:    w.ID,
		DefinitionID:  w.DefinitionID,
		WorkflowType:  w.Type,
		CorrelationID: w.CorrelationID,
		StartedAt:     now,
	})
	return nil
}

// StartStep marks a step as executing and makes it the current step.
func (w *Workflow) StartStep(stepID string) error {
	if w.Status != WorkflowStatusExecuting {
		return NewInvalidStateError("workflow.startStep", "workflow %s is %s, not executing", w.ID, w.Status)
	}

	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}

	if err := step.Start(w.now()); err != nil {
		return err
	}

	w.CurrentStepID = stepID
	return nil
}

// ExecuteStep records a successful step result, appends to the executed log
// and advances the current step pointer.
func (w *Workflow) ExecuteStep(stepID string, result StepResult) error {
	if w.Status != WorkflowStatusExecuting {
		return NewInvalidStateError("workflow.executeStep", "workflow %s is %s, not executing", w.ID, w.Status)
	}

	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}

	now := w.now()
	if err := step.MarkCompleted(result, now); err != nil {
		return err
	}

	if !contains(w.ExecutedSteps, stepID) {
		w.ExecutedSteps = append(w.ExecutedSteps, stepID)
	}
	w.CurrentStepID = w.nextStepID(stepID)

	w.record(&WorkflowStepExecutedEvent{
		EventMeta:  w.newMeta(EventTypeWorkflowStepExecuted),
		WorkflowID: w.ID,
		StepID:     stepID,
		StepName:   step.StepName,
		Result:     result,
		ExecutedAt: now,
	})
	return nil
}

// HandleStepFailure records a failed step. A recoverable error with retry
// budget left makes the failure event announce a retry; an unrecoverable
// error fails the workflow whatever budget remains.
func (w *Workflow) HandleStepFailure(stepID string, stepErr WorkflowError) error {
	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}

	now := w.now()
	step.MarkFailed(stepErr, now)
	willRetry := step.CanRetry() && stepErr.Recoverable

	retryCount := step.RetryCount
	if willRetry {
		retryCount = step.NextAttempt()
	}

	w.record(&WorkflowStepFailedEvent{
		EventMeta:  w.newMeta(EventTypeWorkflowStepFailed),
		WorkflowID: w.ID,
		StepID:     stepID,
		StepName:   step.StepName,
		Err:        stepErr,
		WillRetry:  willRetry,
		RetryCount: retryCount,
		FailedAt:   now,
	})

	if !willRetry && !stepErr.Recoverable {
		return w.Fail(stepErr)
	}
	return nil
}

// RetryStep resets a failed step for another attempt.
func (w *Workflow) RetryStep(stepID string) error {
	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}
	return step.Retry()
}

// Fail moves the workflow to FAILED and records the error.
func (w *Workflow) Fail(workflowErr WorkflowError) error {
	if w.Status != WorkflowStatusExecuting {
		return NewInvalidStateError("workflow.fail", "workflow %s is %s, cannot fail", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusFailed
	w.Errors = append(w.Errors, workflowErr)
	w.CompletedAt = &now
	w.DurationMs = w.duration()

	w.record(&WorkflowFailedEvent{
		EventMeta:            w.newMeta(EventTypeWorkflowFailed),
		WorkflowID:           w.ID,
		Err:                  workflowErr,
		FailedStepID:         workflowErr.StepID,
		FailedAt:             now,
		CompensationRequired: workflowErr.RequiresCompensation() && len(w.ExecutedSteps) > 0,
	})
	return nil
}

// Complete moves the workflow to COMPLETED.
func (w *Workflow) Complete() error {
	if w.Status != WorkflowStatusExecuting {
		return NewInvalidStateError("workflow.complete", "workflow %s is %s, not executing", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusCompleted
	w.CompletedAt = &now
	w.DurationMs = w.duration()

	w.record(&WorkflowCompletedEvent{
		EventMeta:   w.newMeta(EventTypeWorkflowCompleted),
		WorkflowID:  w.ID,
		CompletedAt: now,
		DurationMs:  w.DurationMs,
		TotalSteps:  len(w.stepOrder),
		Outputs:     w.Output,
	})
	return nil
}

// Compensate begins backward recovery. The executed log itself stays
// append-only; the event carries a reversed copy.
func (w *Workflow) Compensate() error {
	if w.Status != WorkflowStatusFailed && w.Status != WorkflowStatusCompensating {
		return NewInvalidStateError("workflow.compensate", "workflow %s is %s, only failed workflows compensate", w.ID, w.Status)
	}

	w.Status = WorkflowStatusCompensating

	reversed := make([]string, len(w.ExecutedSteps))
	for i, id := range w.ExecutedSteps {
		reversed[len(w.ExecutedSteps)-1-i] = id
	}

	reason := ""
	if len(w.Errors) > 0 {
		reason = w.Errors[len(w.Errors)-1].Message
	}

	w.record(&WorkflowCompensationStartedEvent{
		EventMeta:         w.newMeta(EventTypeWorkflowCompensationStarted),
		WorkflowID:        w.ID,
		StepsToCompensate: reversed,
		StartedAt:         w.now(),
		Reason:            reason,
	})
	return nil
}

// CompensateStep marks one completed step as compensating.
func (w *Workflow) CompensateStep(stepID string) error {
	if w.Status != WorkflowStatusCompensating {
		return NewInvalidStateError("workflow.compensateStep", "workflow %s is %s, not compensating", w.ID, w.Status)
	}

	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}
	if !step.RequiresCompensation() {
		return NewInvalidStateError("workflow.compensateStep", "step %s does not require compensation", stepID)
	}

	return step.Compensate()
}

// MarkStepCompensated finishes one step's compensation and appends it to the
// compensated log. Idempotent for already compensated steps.
func (w *Workflow) MarkStepCompensated(stepID string) error {
	step, ok := w.steps[stepID]
	if !ok {
		return NewStepNotFoundError(stepID)
	}

	if step.Status == StepStatusCompensated {
		return nil
	}
	if err := step.MarkCompensated(w.now()); err != nil {
		return err
	}

	if !contains(w.CompensatedSteps, stepID) {
		w.CompensatedSteps = append(w.CompensatedSteps, stepID)
	}
	return nil
}

// CompleteCompensation closes backward recovery with every required step
// undone.
func (w *Workflow) CompleteCompensation() error {
	if w.Status != WorkflowStatusCompensating {
		return NewInvalidStateError("workflow.completeCompensation", "workflow %s is %s, not compensating", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusCompensated
	w.CompletedAt = &now

	w.record(&WorkflowCompensationCompletedEvent{
		EventMeta:        w.newMeta(EventTypeWorkflowCompensationCompleted),
		WorkflowID:       w.ID,
		CompensatedSteps: append([]string(nil), w.CompensatedSteps...),
		Successful:       true,
		CompletedAt:      now,
	})
	return nil
}

// FailCompensation closes backward recovery after a partial failure. The
// workflow still terminates as COMPENSATED; operators reconcile the remainder
// out of band.
func (w *Workflow) FailCompensation(message string) error {
	if w.Status != WorkflowStatusCompensating {
		return NewInvalidStateError("workflow.failCompensation", "workflow %s is %s, not compensating", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusCompensated
	w.CompletedAt = &now

	w.record(&WorkflowCompensationCompletedEvent{
		EventMeta:        w.newMeta(EventTypeWorkflowCompensationCompleted),
		WorkflowID:       w.ID,
		CompensatedSteps: append([]string(nil), w.CompensatedSteps...),
		Successful:       false,
		CompletedAt:      now,
		ErrorMessage:     message,
	})
	return nil
}

// Retry restarts a failed workflow, consuming one unit of the workflow retry
// budget and clearing the error log.
func (w *Workflow) Retry() error {
	if w.Status != WorkflowStatusFailed {
		return NewInvalidStateError("workflow.retry", "workflow %s is %s, only failed workflows retry", w.ID, w.Status)
	}
	if w.RetryCount >= w.MaxRetries {
		return NewInvalidStateError("workflow.retry", "workflow %s exhausted retries (%d/%d)", w.ID, w.RetryCount, w.MaxRetries)
	}

	w.RetryCount++
	w.Status = WorkflowStatusExecuting
	w.Errors = nil
	w.CompletedAt = nil

	w.record(&WorkflowRetryEvent{
		EventMeta:  w.newMeta(EventTypeWorkflowRetry),
		WorkflowID: w.ID,
		RetryCount: w.RetryCount,
		RetriedAt:  w.now(),
	})
	return nil
}

func (w *Workflow) Pause() error {
	if w.Status != WorkflowStatusExecuting {
		return NewInvalidStateError("workflow.pause", "workflow %s is %s, only executing workflows pause", w.ID, w.Status)
	}

	w.Status = WorkflowStatusPaused

	w.record(&WorkflowPausedEvent{
		EventMeta:     w.newMeta(EventTypeWorkflowPaused),
		WorkflowID:    w.ID,
		PausedAt:      w.now(),
		CurrentStepID: w.CurrentStepID,
	})
	return nil
}

func (w *Workflow) Resume() error {
	if w.Status != WorkflowStatusPaused {
		return NewInvalidStateError("workflow.resume", "workflow %s is %s, only paused workflows resume", w.ID, w.Status)
	}

	w.Status = WorkflowStatusExecuting

	w.record(&WorkflowResumedEvent{
		EventMeta:  w.newMeta(EventTypeWorkflowResumed),
		WorkflowID: w.ID,
		ResumedAt:  w.now(),
		FromStepID: w.CurrentStepID,
	})
	return nil
}

// Cancel terminates the workflow from any non-terminal state. On races with
// completion or failure, cancel wins only if it commits first; a terminal
// status rejects it.
func (w *Workflow) Cancel(reason string) error {
	if w.Status.IsTerminal() {
		return NewInvalidStateError("workflow.cancel", "workflow %s is already %s", w.ID, w.Status)
	}

	now := w.now()
	w.Status = WorkflowStatusCancelled
	w.CompletedAt = &now
	w.DurationMs = w.duration()

	w.record(&WorkflowCancelledEvent{
		EventMeta:   w.newMeta(EventTypeWorkflowCancelled),
		WorkflowID:  w.ID,
		Reason:      reason,
		CancelledAt: now,
	})
	return nil
}

func (w *Workflow) UpdateContext(key string, value any) {
	if w.Context == nil {
		w.Context = NewExecutionContext()
	}
	w.Context.Set(key, value)
}

// MergeOutput folds a step's output into the workflow output parameters.
func (w *Workflow) MergeOutput(output map[string]any) error {
	if len(output) == 0 {
		return nil
	}
	ctx := ExecutionContextFrom(w.Output)
	if err := ctx.Merge(output); err != nil {
		return err
	}
	w.Output = ctx.Values()
	return nil
}

func (w *Workflow) CanTransitionToWaveless() bool {
	return w.Type.SupportsWaveless() &&
		w.Status == WorkflowStatusExecuting &&
		w.Priority == PriorityHigh
}

func (w *Workflow) TransitionToWaveless(batchSize int, interval time.Duration) error {
	if !w.CanTransitionToWaveless() {
		return NewInvalidStateError("workflow.transitionToWaveless", "workflow %s cannot go waveless (type=%s status=%s priority=%s)", w.ID, w.Type, w.Status, w.Priority)
	}

	w.UpdateContext("wavelessEnabled", true)
	w.UpdateContext("batchSize", batchSize)
	w.UpdateContext("processingInterval", interval.String())

	w.record(&WavelessProcessingEnabledEvent{
		EventMeta:  w.newMeta(EventTypeWavelessProcessingEnabled),
		WorkflowID: w.ID,
		BatchSize:  batchSize,
		Interval:   interval,
		EnabledAt:  w.now(),
	})
	return nil
}

func (w *Workflow) Step(stepID string) (*StepExecution, bool) {
	s, ok := w.steps[stepID]
	return s, ok
}

// Steps returns the step table in execution order.
func (w *Workflow) Steps() []*StepExecution {
	out := make([]*StepExecution, 0, len(w.stepOrder))
	for _, id := range w.stepOrder {
		out = append(out, w.steps[id])
	}
	return out
}

func (w *Workflow) StepIDs() []string {
	return append([]string(nil), w.stepOrder...)
}

// StepsRequiringCompensation walks the executed log in reverse and returns
// the steps still holding completed remote work.
func (w *Workflow) StepsRequiringCompensation() []*StepExecution {
	var out []*StepExecution
	for i := len(w.ExecutedSteps) - 1; i >= 0; i-- {
		step, ok := w.steps[w.ExecutedSteps[i]]
		if ok && step.RequiresCompensation() {
			out = append(out, step)
		}
	}
	return out
}

func (w *Workflow) AllStepsCompleted() bool {
	if len(w.steps) == 0 {
		return false
	}
	for _, step := range w.steps {
		if step.Status != StepStatusCompleted && step.Status != StepStatusSkipped {
			return false
		}
	}
	return true
}

func (w *Workflow) ProgressPercent() float64 {
	if len(w.steps) == 0 {
		return 0
	}
	done := 0
	for _, step := range w.steps {
		if step.Status == StepStatusCompleted || step.Status == StepStatusSkipped {
			done++
		}
	}
	return float64(done) / float64(len(w.steps)) * 100
}

func (w *Workflow) ActiveSteps() int {
	active := 0
	for _, step := range w.steps {
		if step.Status == StepStatusExecuting {
			active++
		}
	}
	return active
}

// Utilization is the share of steps currently executing, 0-100.
func (w *Workflow) Utilization() float64 {
	if len(w.steps) == 0 {
		return 0
	}
	return float64(w.ActiveSteps()) / float64(len(w.steps)) * 100
}

// WorkflowLoad is one workflow's contribution to system load.
type WorkflowLoad struct {
	WorkflowID  string    `json:"workflow_id"`
	ActiveSteps int       `json:"active_steps"`
	TotalSteps  int       `json:"total_steps"`
	Utilization float64   `json:"utilization"`
	Timestamp   time.Time `json:"timestamp"`
}

func (w *Workflow) CalculateSystemLoad() WorkflowLoad {
	return WorkflowLoad{
		WorkflowID:  w.ID,
		ActiveSteps: w.ActiveSteps(),
		TotalSteps:  len(w.steps),
		Utilization: w.Utilization(),
		Timestamp:   w.now(),
	}
}

func (w *Workflow) HasTimedOut(limit time.Duration) bool {
	if w.StartedAt == nil || w.Status.IsTerminal() || limit <= 0 {
		return false
	}
	return w.now().Sub(*w.StartedAt) > limit
}

func (w *Workflow) IsActive() bool {
	return w.Status.IsActive()
}

func (w *Workflow) IsTerminal() bool {
	return w.Status.IsTerminal()
}

// PendingEvents returns a copy of the outbox in emission order.
func (w *Workflow) PendingEvents() []Event {
	return append([]Event(nil), w.events...)
}

func (w *Workflow) ClearEvents() {
	w.events = nil
}

func (w *Workflow) nextStepID(after string) string {
	for i, id := range w.stepOrder {
		if id == after && i+1 < len(w.stepOrder) {
			return w.stepOrder[i+1]
		}
	}
	return ""
}

func (w *Workflow) record(e Event) {
	w.events = append(w.events, e)
}

func (w *Workflow) newMeta(eventType string) EventMeta {
	return newEventMeta(eventType, w.ID, w.Version, w.now())
}

func (w *Workflow) now() time.Time {
	if w.clock == nil {
		w.clock = SystemClock()
	}
	return w.clock.Now()
}

func (w *Workflow) duration() int64 {
	if w.StartedAt == nil || w.CompletedAt == nil {
		return 0
	}
	return w.CompletedAt.Sub(*w.StartedAt).Milliseconds()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
