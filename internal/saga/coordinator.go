package saga

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// Coordinator decides between forward and backward recovery for a workflow
// saga. It is deterministic given the workflow state and performs no I/O;
// remote compensation calls are the execution service's job.
type Coordinator struct {
	logger *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger.With("component", "saga-coordinator")}
}

func (c *Coordinator) StartSaga(w *domain.Workflow) error {
	c.logger.Info("starting saga", "workflow_id", w.ID)

	w.UpdateContext("sagaStarted", true)
	w.UpdateContext("sagaTransactionId", "saga-"+uuid.NewString())

	return w.Start()
}

// ForwardRecovery retries a failed step when budget remains, reporting the
// backoff delay the scheduler should honor. A false return means the caller
// must switch to backward recovery.
func (c *Coordinator) ForwardRecovery(w *domain.Workflow, stepID string) (time.Duration, bool) {
	step, ok := w.Step(stepID)
	if !ok {
		c.logger.Error("failed step not found", "workflow_id", w.ID, "step_id", stepID)
		return 0, false
	}

	if !step.CanRetry() {
		c.logger.Warn("step retry budget exhausted", "workflow_id", w.ID, "step_id", stepID, "retry_count", step.RetryCount)
		return 0, false
	}

	delay := step.RetryDelay()
	if err := w.RetryStep(stepID); err != nil {
		c.logger.Error("retry step failed", "workflow_id", w.ID, "step_id", stepID, "error", err.Error())
		return 0, false
	}

	c.logger.Info("step marked for retry", "workflow_id", w.ID, "step_id", stepID, "retry_count", step.RetryCount, "delay", delay)
	return delay, true
}

// BackwardRecovery begins compensation for a failed workflow. With nothing to
// compensate the saga closes immediately.
func (c *Coordinator) BackwardRecovery(w *domain.Workflow, cause domain.WorkflowError) error {
	steps := w.StepsRequiringCompensation()

	if err := w.Compensate(); err != nil {
		return err
	}

	w.UpdateContext("compensationReason", cause.Message)
	w.UpdateContext("stepsToCompensate", len(steps))

	if len(steps) == 0 {
		c.logger.Info("no steps require compensation", "workflow_id", w.ID)
		return w.CompleteCompensation()
	}

	c.logger.Info("backward recovery started", "workflow_id", w.ID, "steps", len(steps))
	return nil
}

func (c *Coordinator) CompleteSaga(w *domain.Workflow) error {
	c.logger.Info("completing saga", "workflow_id", w.ID)

	w.UpdateContext("sagaCompleted", true)
	return w.Complete()
}

// FailSaga marks the workflow failed and, when the error demands it, starts
// backward recovery. Tolerates a workflow already failed by the aggregate's
// own failure handling.
func (c *Coordinator) FailSaga(w *domain.Workflow, cause domain.WorkflowError) error {
	c.logger.Error("saga failed", "workflow_id", w.ID, "error", cause.Message)

	w.UpdateContext("sagaFailed", true)
	w.UpdateContext("sagaFailureReason", cause.Message)

	if w.Status != domain.WorkflowStatusFailed {
		if err := w.Fail(cause); err != nil {
			return err
		}
	}

	if cause.RequiresCompensation() {
		return c.BackwardRecovery(w, cause)
	}

	c.logger.Info("error does not require compensation", "workflow_id", w.ID, "kind", string(cause.Kind))
	return nil
}

// CheckConsistency reports whether every completed step still has a
// compensation action to undo it.
func (c *Coordinator) CheckConsistency(w *domain.Workflow) bool {
	missing := 0
	for _, step := range w.Steps() {
		if step.Status == domain.StepStatusCompleted && step.Compensation == nil {
			missing++
		}
	}

	if missing > 0 {
		c.logger.Warn("completed steps without compensation actions", "workflow_id", w.ID, "count", missing)
	}
	return missing == 0
}

// CompensationProgress is the share of executed steps already compensated,
// 0-100. An empty executed log counts as fully compensated.
func (c *Coordinator) CompensationProgress(w *domain.Workflow) float64 {
	if len(w.ExecutedSteps) == 0 {
		return 100
	}
	return float64(len(w.CompensatedSteps)) / float64(len(w.ExecutedSteps)) * 100
}

// CanProceed reports whether the saga may advance past the given step.
func (c *Coordinator) CanProceed(w *domain.Workflow, stepID string) bool {
	step, ok := w.Step(stepID)
	if !ok {
		return false
	}
	return step.Status == domain.StepStatusCompleted && w.Status == domain.WorkflowStatusExecuting
}
