package domain

import "time"

// StepExecution is one unit of remote work owned by exactly one workflow.
// It runs its own state machine with retry and compensation lifecycles.
type StepExecution struct {
	StepID         string
	StepName       string
	StepType       string
	ServiceName    string
	Operation      string
	ExecutionOrder int

	Status StepStatus

	Input  map[string]any
	Output map[string]any
	Result *StepResult

	RetriesRemaining int
	RetryCount       int
	Policy           RetryPolicy
	Compensation     *CompensationAction

	Timeout     time.Duration
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  int64

	Compensated   bool
	CompensatedAt *time.Time

	LastError *WorkflowError

	retryPending bool
}

func NewStepExecution(stepID, stepName, serviceName, operation string, executionOrder int, input map[string]any, timeout time.Duration) *StepExecution {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StepExecution{
		StepID:           stepID,
		StepName:         stepName,
		ServiceName:      serviceName,
		Operation:        operation,
		ExecutionOrder:   executionOrder,
		Status:           StepStatusPending,
		Input:            input,
		RetriesRemaining: 3,
		Policy:           DefaultRetryPolicy(),
		Timeout:          timeout,
	}
}

// Start moves the step to EXECUTING. A start after a failed attempt consumes
// one retry from the budget.
func (s *StepExecution) Start(now time.Time) error {
	if s.Status != StepStatusPending && s.Status != StepStatusFailed {
		return NewInvalidStateError("step.start", "step %s cannot start from %s", s.StepID, s.Status)
	}

	if s.Status == StepStatusFailed || s.retryPending {
		s.RetryCount++
		s.RetriesRemaining--
		s.retryPending = false
	}

	s.Status = StepStatusExecuting
	s.StartedAt = &now
	return nil
}

func (s *StepExecution) MarkCompleted(result StepResult, now time.Time) error {
	if s.Status != StepStatusExecuting {
		return NewInvalidStateError("step.complete", "step %s is %s, not executing", s.StepID, s.Status)
	}

	s.Status = StepStatusCompleted
	s.Result = &result
	s.Output = result.Output
	s.CompletedAt = &now
	s.DurationMs = s.duration()
	return nil
}

func (s *StepExecution) MarkFailed(err WorkflowError, now time.Time) {
	s.Status = StepStatusFailed
	s.LastError = &err
	s.CompletedAt = &now
	s.DurationMs = s.duration()
}

func (s *StepExecution) CanRetry() bool {
	return s.Status == StepStatusFailed && s.RetriesRemaining > 0 && s.Policy.CanRetry(s.RetryCount)
}

// Retry resets a failed step back to PENDING. Retry-count bookkeeping happens
// on the next Start.
func (s *StepExecution) Retry() error {
	if !s.CanRetry() {
		return NewInvalidStateError("step.retry", "step %s cannot be retried", s.StepID)
	}

	s.Status = StepStatusPending
	s.LastError = nil
	s.StartedAt = nil
	s.CompletedAt = nil
	s.retryPending = true
	return nil
}

// NextAttempt is the attempt number a retry would run as, 1-indexed.
func (s *StepExecution) NextAttempt() int {
	return s.RetryCount + 1
}

func (s *StepExecution) RetryDelay() time.Duration {
	return s.Policy.Delay(s.RetryCount)
}

func (s *StepExecution) Compensate() error {
	if s.Status != StepStatusCompleted {
		return NewInvalidStateError("step.compensate", "step %s is %s, only completed steps compensate", s.StepID, s.Status)
	}
	if s.Compensation == nil {
		return NewInvalidStateError("step.compensate", "step %s has no compensation action", s.StepID)
	}

	s.Status = StepStatusCompensating
	return nil
}

// MarkCompensated finishes a step's compensation. Calling it on an already
// compensated step is a no-op.
func (s *StepExecution) MarkCompensated(now time.Time) error {
	if s.Status == StepStatusCompensated {
		return nil
	}
	if s.Status != StepStatusCompensating {
		return NewInvalidStateError("step.markCompensated", "step %s is %s, not compensating", s.StepID, s.Status)
	}

	s.Status = StepStatusCompensated
	s.Compensated = true
	s.CompensatedAt = &now
	return nil
}

func (s *StepExecution) Skip(reason string, now time.Time) {
	s.Status = StepStatusSkipped
	s.CompletedAt = &now
	if s.Output == nil {
		s.Output = map[string]any{"skipped": true, "reason": reason}
	}
}

func (s *StepExecution) RequiresCompensation() bool {
	return s.Status == StepStatusCompleted && s.Compensation != nil
}

func (s *StepExecution) HasTimedOut(now time.Time) bool {
	if s.Status != StepStatusExecuting || s.StartedAt == nil || s.Timeout <= 0 {
		return false
	}
	return now.Sub(*s.StartedAt) > s.Timeout
}

func (s *StepExecution) IsTerminal() bool {
	return s.Status.IsTerminal()
}

func (s *StepExecution) IsActive() bool {
	return s.Status.IsActive()
}

func (s *StepExecution) duration() int64 {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt).Milliseconds()
}
