package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// stepRunner drives a single step's remote work: the forward operation and,
// during backward recovery, the compensation call with its own retry bound.
type stepRunner struct {
	remote  ports.RemoteCall
	clock   ports.Clock
	metrics *domain.EngineMetrics
	logger  *slog.Logger
}

func newStepRunner(remote ports.RemoteCall, clock ports.Clock, metrics *domain.EngineMetrics, logger *slog.Logger) *stepRunner {
	return &stepRunner{
		remote:  remote,
		clock:   clock,
		metrics: metrics,
		logger:  logger.With("component", "step-runner"),
	}
}

// run invokes the step's operation on its target service. It returns either a
// successful result or the step error the recovery path should consume.
func (r *stepRunner) run(ctx context.Context, workflowID string, step *domain.StepExecution) (domain.StepResult, *domain.WorkflowError) {
	started := r.clock.Now()

	r.logger.Debug("invoking step operation",
		"workflow_id", workflowID,
		"step_id", step.StepID,
		"service", step.ServiceName,
		"operation", step.Operation,
	)

	output, err := r.remote.Call(ctx, step.ServiceName, step.Operation, step.Input)
	now := r.clock.Now()
	elapsed := now.Sub(started)

	if err != nil {
		stepErr := r.classify(step, err, now)
		r.logger.Warn("step operation failed",
			"workflow_id", workflowID,
			"step_id", step.StepID,
			"kind", string(stepErr.Kind),
			"recoverable", stepErr.Recoverable,
			"error", err.Error(),
		)
		return domain.StepResult{}, &stepErr
	}

	if step.HasTimedOut(now) {
		r.metrics.StepsTimedOut.Add(1)
		stepErr := r.timeoutError(step, now)
		return domain.StepResult{}, &stepErr
	}

	return domain.SuccessResult(step.StepID, output, elapsed, now), nil
}

// compensate executes a step's compensation action, retrying within the
// action's own bound.
func (r *stepRunner) compensate(ctx context.Context, workflowID string, action *domain.CompensationAction) error {
	if !action.Valid() {
		return domain.NewInvalidStateError("compensation", "invalid compensation action for step %s", action.StepID)
	}

	attempts := action.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		if action.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, action.Timeout)
			defer cancel()
		}

		_, err := r.remote.Call(callCtx, action.ServiceName, action.Operation, action.Parameters)
		if err == nil {
			r.metrics.StepsCompensated.Add(1)
			r.logger.Info("step compensated",
				"workflow_id", workflowID,
				"step_id", action.StepID,
				"strategy", string(action.Strategy),
				"attempt", attempt+1,
			)
			return nil
		}

		lastErr = err
		r.logger.Warn("compensation attempt failed",
			"workflow_id", workflowID,
			"step_id", action.StepID,
			"attempt", attempt+1,
			"error", err.Error(),
		)
	}

	return lastErr
}

func (r *stepRunner) classify(step *domain.StepExecution, err error, now time.Time) domain.WorkflowError {
	var kind domain.ErrorKind
	switch {
	case errors.Is(err, ports.ErrRemoteTimeout) || errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrorKindTimeout
	case errors.Is(err, ports.ErrRemoteUnavailable):
		kind = domain.ErrorKindServiceUnavailable
	case errors.Is(err, ports.ErrRemoteValidation):
		kind = domain.ErrorKindValidation
	case errors.Is(err, ports.ErrRemoteFailed):
		kind = domain.ErrorKindNetwork
	default:
		kind = domain.ErrorKindInternal
	}

	return domain.NewWorkflowError(kind, step.StepID, step.ServiceName, "REMOTE_CALL_FAILED", err.Error(), now)
}

func (r *stepRunner) timeoutError(step *domain.StepExecution, now time.Time) domain.WorkflowError {
	return domain.NewWorkflowError(
		domain.ErrorKindTimeout,
		step.StepID,
		step.ServiceName,
		"STEP_TIMEOUT",
		"step execution exceeded timeout of "+step.Timeout.String(),
		now,
	)
}
