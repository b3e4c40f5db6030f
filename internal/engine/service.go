package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
	"github.com/paklog/wes-orchestration-engine/internal/saga"
)

const lockKeyPrefix = "workflow:"

// Service is the per-step entry point into the engine. Every mutation is
// transactional over one workflow: acquire the lock, load, mutate, persist
// with the version check, publish the outbox, release.
type Service struct {
	repo      ports.WorkflowRepository
	lock      ports.Lock
	publisher ports.EventPublisher
	saga      *saga.Coordinator
	registry  *DefinitionRegistry
	runner    *stepRunner
	clock     ports.Clock
	cfg       domain.EngineConfig
	metrics   *domain.EngineMetrics
	logger    *slog.Logger
}

func NewService(
	repo ports.WorkflowRepository,
	lock ports.Lock,
	publisher ports.EventPublisher,
	remote ports.RemoteCall,
	coordinator *saga.Coordinator,
	registry *DefinitionRegistry,
	cfg domain.EngineConfig,
	metrics *domain.EngineMetrics,
	clock ports.Clock,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if metrics == nil {
		metrics = domain.NewEngineMetrics()
	}

	return &Service{
		repo:      repo,
		lock:      lock,
		publisher: publisher,
		saga:      coordinator,
		registry:  registry,
		runner:    newStepRunner(remote, clock, metrics, logger),
		clock:     clock,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("component", "execution-service"),
	}
}

func (s *Service) Registry() *DefinitionRegistry { return s.registry }

func (s *Service) Metrics() *domain.EngineMetrics { return s.metrics }

type StartWorkflowCommand struct {
	DefinitionID   string
	Priority       domain.WorkflowPriority
	TriggeredBy    string
	CorrelationID  string
	Input          map[string]any
	MaxRetries     int
	EnableWaveless bool
	Immediate      bool
}

// StartWorkflow creates a workflow instance from a registered definition.
// Immediate commands open the saga right away; otherwise the instance waits
// in PENDING for scheduler admission.
func (s *Service) StartWorkflow(ctx context.Context, cmd StartWorkflowCommand) (*domain.Workflow, error) {
	def, ok := s.registry.Get(cmd.DefinitionID)
	if !ok {
		return nil, &domain.NotFoundError{Resource: "workflow definition", ID: cmd.DefinitionID}
	}

	priority := cmd.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	w, err := domain.NewWorkflow(uuid.NewString(), def, priority, cmd.TriggeredBy, correlationID, cmd.Input, s.clock)
	if err != nil {
		return nil, err
	}
	if cmd.MaxRetries > 0 {
		w.MaxRetries = cmd.MaxRetries
	}

	if cmd.Immediate {
		if err := s.saga.StartSaga(w); err != nil {
			return nil, err
		}
		if cmd.EnableWaveless && w.CanTransitionToWaveless() {
			sched := domain.DefaultSchedulerConfig()
			if err := w.TransitionToWaveless(sched.DefaultBatchSize, sched.DefaultInterval); err != nil {
				return nil, err
			}
		}
	}

	saved, err := s.repo.Save(ctx, w)
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, w.PendingEvents())
	w.ClearEvents()
	s.metrics.WorkflowsStarted.Add(1)

	s.logger.Info("workflow started",
		"workflow_id", saved.ID,
		"definition_id", cmd.DefinitionID,
		"type", string(saved.Type),
		"priority", string(saved.Priority),
		"immediate", cmd.Immediate,
	)
	return saved, nil
}

// Advance admits a workflow for its next unit of work: opening the saga for
// pending instances and running the next eligible step for executing ones.
func (s *Service) Advance(ctx context.Context, workflowID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		if w.Status == domain.WorkflowStatusPending {
			if err := s.saga.StartSaga(w); err != nil {
				return err
			}
		}
		if w.Status != domain.WorkflowStatusExecuting {
			return nil
		}

		stepID, ok := s.nextRunnable(w)
		if !ok {
			if w.AllStepsCompleted() {
				s.metrics.WorkflowsCompleted.Add(1)
				return s.saga.CompleteSaga(w)
			}
			return nil
		}

		return s.runStepLocked(ctx, w, stepID)
	})
}

// ExecuteStep records an externally produced step result.
func (s *Service) ExecuteStep(ctx context.Context, workflowID, stepID string, result domain.StepResult) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		if err := s.validateStepExecution(w, stepID); err != nil {
			return err
		}

		step, _ := w.Step(stepID)
		if step.Status == domain.StepStatusPending {
			if err := w.StartStep(stepID); err != nil {
				return err
			}
		}

		if err := w.ExecuteStep(stepID, result); err != nil {
			return err
		}
		if err := w.MergeOutput(result.Output); err != nil {
			return err
		}
		s.metrics.StepsExecuted.Add(1)

		if w.AllStepsCompleted() {
			s.metrics.WorkflowsCompleted.Add(1)
			return s.saga.CompleteSaga(w)
		}
		return nil
	})
}

// HandleStepFailure consumes a step error: a recoverable error with retry
// budget left takes forward recovery; an unrecoverable error fails the saga
// and compensates when the error requires it; a recoverable error with no
// budget left fails the workflow without compensation.
func (s *Service) HandleStepFailure(ctx context.Context, workflowID, stepID string, stepErr domain.WorkflowError) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		return s.handleFailureLocked(ctx, w, stepID, stepErr)
	})
}

// ExecuteStepWithTimeout starts a step when it is still pending, and
// synthesizes a recoverable timeout error for a step whose deadline has
// passed while executing.
func (s *Service) ExecuteStepWithTimeout(ctx context.Context, workflowID, stepID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		step, ok := w.Step(stepID)
		if !ok {
			return domain.NewStepNotFoundError(stepID)
		}

		if step.Status == domain.StepStatusPending || step.Status == domain.StepStatusFailed {
			return w.StartStep(stepID)
		}

		if step.HasTimedOut(s.clock.Now()) {
			s.metrics.StepsTimedOut.Add(1)
			return s.handleFailureLocked(ctx, w, stepID, s.runner.timeoutError(step, s.clock.Now()))
		}
		return nil
	})
}

// NextStep resolves the next step id from the definition's order, requiring
// every dependency to appear in the executed log. Empty means the caller
// should check for completion.
func (s *Service) NextStep(w *domain.Workflow, def *domain.WorkflowDefinition) (string, bool) {
	next, ok := def.NextStep(w.CurrentStepID)
	if !ok {
		return "", false
	}
	if !def.DependenciesSatisfied(next.StepID, w.ExecutedSteps) {
		return "", false
	}
	return next.StepID, true
}

func (s *Service) Pause(ctx context.Context, workflowID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		return w.Pause()
	})
}

func (s *Service) Resume(ctx context.Context, workflowID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		return w.Resume()
	})
}

func (s *Service) Cancel(ctx context.Context, workflowID, reason string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		if err := w.Cancel(reason); err != nil {
			return err
		}
		s.metrics.WorkflowsCancelled.Add(1)
		return nil
	})
}

// RetryWorkflow retries one step when stepID is given, otherwise the whole
// workflow.
func (s *Service) RetryWorkflow(ctx context.Context, workflowID, stepID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		if stepID != "" {
			if err := w.RetryStep(stepID); err != nil {
				return err
			}
			s.metrics.StepsRetried.Add(1)
			return nil
		}
		if err := w.Retry(); err != nil {
			return err
		}
		s.metrics.WorkflowsRetried.Add(1)
		return nil
	})
}

// CompensateWorkflow is the manual backward-recovery path: it fails the saga
// with a business-rule error and drives each compensation to completion.
func (s *Service) CompensateWorkflow(ctx context.Context, workflowID, reason string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		cause := domain.NewWorkflowError(
			domain.ErrorKindBusinessRuleViolation,
			"",
			"orchestration-engine",
			"MANUAL_COMPENSATION",
			reason,
			s.clock.Now(),
		)

		if w.Status == domain.WorkflowStatusExecuting {
			if err := w.Fail(cause); err != nil {
				return err
			}
		}
		if err := s.saga.BackwardRecovery(w, cause); err != nil {
			return err
		}
		if w.Status != domain.WorkflowStatusCompensating {
			return nil
		}
		return s.driveCompensation(ctx, w)
	})
}

// EnableWaveless switches an executing high-priority workflow to waveless
// processing.
func (s *Service) EnableWaveless(ctx context.Context, workflowID string) error {
	return s.withWorkflow(ctx, workflowID, func(w *domain.Workflow) error {
		sched := domain.DefaultSchedulerConfig()
		return w.TransitionToWaveless(sched.DefaultBatchSize, sched.DefaultInterval)
	})
}

func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	w, err := s.repo.FindByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, domain.NewWorkflowNotFoundError(workflowID)
	}
	return w, nil
}

func (s *Service) handleFailureLocked(ctx context.Context, w *domain.Workflow, stepID string, stepErr domain.WorkflowError) error {
	if err := w.HandleStepFailure(stepID, stepErr); err != nil {
		return err
	}
	s.metrics.StepsFailed.Add(1)

	step, ok := w.Step(stepID)
	if !ok {
		return domain.NewStepNotFoundError(stepID)
	}

	if step.CanRetry() && stepErr.Recoverable {
		if delay, retried := s.saga.ForwardRecovery(w, stepID); retried {
			s.metrics.StepsRetried.Add(1)
			s.recordRetryDelay(w, stepID, delay)
			return nil
		}
	}

	if !stepErr.Recoverable {
		s.metrics.WorkflowsFailed.Add(1)
		if err := s.saga.FailSaga(w, stepErr); err != nil {
			return err
		}
		if w.Status == domain.WorkflowStatusCompensating {
			return s.driveCompensation(ctx, w)
		}
		return nil
	}

	// Recoverable but out of budget: fail without compensation so the
	// workflow-level retry budget can revive it.
	s.metrics.WorkflowsFailed.Add(1)
	if w.Status == domain.WorkflowStatusExecuting {
		return w.Fail(stepErr)
	}
	return nil
}

// driveCompensation walks the executed log in reverse, invoking each step's
// compensation. Failures beyond a step's own retry bound are recorded and the
// walk continues; the terminal event then reports successful=false.
func (s *Service) driveCompensation(ctx context.Context, w *domain.Workflow) error {
	steps := w.StepsRequiringCompensation()
	var failed []string

	for _, step := range steps {
		if err := w.CompensateStep(step.StepID); err != nil {
			s.logger.Error("cannot begin step compensation", "workflow_id", w.ID, "step_id", step.StepID, "error", err.Error())
			failed = append(failed, step.StepID)
			continue
		}

		if err := s.runner.compensate(ctx, w.ID, step.Compensation); err != nil {
			s.logger.Error("step compensation exhausted its retry bound",
				"workflow_id", w.ID,
				"step_id", step.StepID,
				"error", err.Error(),
			)
			failed = append(failed, step.StepID)
			continue
		}

		if err := w.MarkStepCompensated(step.StepID); err != nil {
			return err
		}
	}

	s.metrics.WorkflowsCompensated.Add(1)
	if len(failed) == 0 {
		return w.CompleteCompensation()
	}
	return w.FailCompensation("compensation failed for steps: " + strings.Join(failed, ", "))
}

func (s *Service) runStepLocked(ctx context.Context, w *domain.Workflow, stepID string) error {
	if err := w.StartStep(stepID); err != nil {
		return err
	}

	step, _ := w.Step(stepID)
	result, stepErr := s.runner.run(ctx, w.ID, step)
	if stepErr != nil {
		return s.handleFailureLocked(ctx, w, stepID, *stepErr)
	}

	if err := w.ExecuteStep(stepID, result); err != nil {
		return err
	}
	if err := w.MergeOutput(result.Output); err != nil {
		return err
	}
	s.metrics.StepsExecuted.Add(1)

	if w.AllStepsCompleted() {
		s.metrics.WorkflowsCompleted.Add(1)
		return s.saga.CompleteSaga(w)
	}
	return nil
}

// nextRunnable picks the first pending step whose dependencies are executed
// and whose retry due time, if any, has arrived.
func (s *Service) nextRunnable(w *domain.Workflow) (string, bool) {
	def, _ := s.registry.Get(w.DefinitionID)
	now := s.clock.Now()

	for _, step := range w.Steps() {
		switch step.Status {
		case domain.StepStatusCompleted, domain.StepStatusSkipped:
			continue
		case domain.StepStatusPending:
			if def != nil && !def.DependenciesSatisfied(step.StepID, w.ExecutedSteps) {
				return "", false
			}
			if due, ok := retryDueAt(w, step.StepID); ok && now.Before(due) {
				return "", false
			}
			return step.StepID, true
		default:
			return "", false
		}
	}
	return "", false
}

func (s *Service) validateStepExecution(w *domain.Workflow, stepID string) error {
	if !w.IsActive() {
		return domain.NewInvalidStateError("executeStep", "workflow %s is not active (status=%s)", w.ID, w.Status)
	}

	step, ok := w.Step(stepID)
	if !ok {
		return domain.NewStepNotFoundError(stepID)
	}
	if step.IsTerminal() {
		return domain.NewInvalidStateError("executeStep", "step %s is already terminal (%s)", stepID, step.Status)
	}
	return nil
}

func (s *Service) recordRetryDelay(w *domain.Workflow, stepID string, delay time.Duration) {
	w.UpdateContext("retryDelay_"+stepID, delay.Milliseconds())
	w.UpdateContext("retryAt_"+stepID, s.clock.Now().Add(delay).Format(time.RFC3339Nano))
}

// RetryDueAt exposes a step's pending retry due time for admission decisions.
func RetryDueAt(w *domain.Workflow, stepID string) (time.Time, bool) {
	return retryDueAt(w, stepID)
}

func retryDueAt(w *domain.Workflow, stepID string) (time.Time, bool) {
	if w.Context == nil {
		return time.Time{}, false
	}
	v, ok := w.Context.Get("retryAt_" + stepID)
	if !ok {
		return time.Time{}, false
	}
	raw, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	due, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return due, true
}

func (s *Service) withWorkflow(ctx context.Context, workflowID string, fn func(*domain.Workflow) error) error {
	key := lockKeyPrefix + workflowID

	acquired := false
	for attempt := 0; attempt <= s.cfg.LockRetries; attempt++ {
		ok, err := s.lock.TryAcquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}

		s.metrics.LockContention.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.LockRetryDelay * time.Duration(attempt+1)):
		}
	}
	if !acquired {
		return fmt.Errorf("workflow %s: %w", workflowID, domain.ErrLockUnavailable)
	}
	defer func() {
		if err := s.lock.Release(ctx, key); err != nil {
			s.logger.Error("failed to release workflow lock", "workflow_id", workflowID, "error", err.Error())
		}
	}()

	w, err := s.repo.FindByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if w == nil {
		return domain.NewWorkflowNotFoundError(workflowID)
	}

	if err := fn(w); err != nil {
		return err
	}

	if _, err := s.repo.Save(ctx, w); err != nil {
		return err
	}

	s.publishEvents(ctx, w.PendingEvents())
	w.ClearEvents()
	return nil
}

func (s *Service) publishEvents(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish event",
				"event_type", event.Metadata().EventType,
				"aggregate_id", event.Metadata().AggregateID,
				"error", err.Error(),
			)
			continue
		}
		s.metrics.EventsPublished.Add(1)
	}
}
