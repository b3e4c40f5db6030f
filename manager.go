package orchestration

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/paklog/wes-orchestration-engine/internal/adapters/events"
	"github.com/paklog/wes-orchestration-engine/internal/adapters/memory"
	"github.com/paklog/wes-orchestration-engine/internal/adapters/storage"
	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/engine"
	"github.com/paklog/wes-orchestration-engine/internal/loadbalancer"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
	"github.com/paklog/wes-orchestration-engine/internal/saga"
	"github.com/paklog/wes-orchestration-engine/internal/scheduler"
)

// Ports overrides the default adapters. Any nil field falls back to the
// built-in implementation: badger-backed repository and lock when a data
// directory is configured, in-memory otherwise.
type Ports struct {
	Repository ports.WorkflowRepository
	Lock       ports.Lock
	Publisher  ports.EventPublisher
	Remote     ports.RemoteCall
	Clock      ports.Clock
}

// Manager wires the engine, scheduler and load controller and is the main
// entry point for embedding the orchestration engine.
type Manager struct {
	cfg    *domain.Config
	logger *slog.Logger

	repo      ports.WorkflowRepository
	publisher ports.EventPublisher
	bus       *events.Bus
	store     *storage.Store

	engine    *engine.Service
	scheduler *scheduler.WavelessScheduler
	janitor   *scheduler.Janitor
	loads     *loadbalancer.Controller
	collector *loadbalancer.Collector
	saga      *saga.Coordinator
	metrics   *domain.EngineMetrics
	clock     ports.Clock

	mu      sync.Mutex
	started bool
}

func New(cfg *Config, logger *slog.Logger) (*Manager, error) {
	return NewWithPorts(cfg, logger, Ports{})
}

func NewWithPorts(cfg *Config, logger *slog.Logger, override Ports) (*Manager, error) {
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	clock := override.Clock
	if clock == nil {
		clock = domain.SystemClock()
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		metrics: domain.NewEngineMetrics(),
	}

	repo := override.Repository
	lock := override.Lock
	if repo == nil || lock == nil {
		if cfg.DataDir != "" {
			store, err := storage.Open(cfg.DataDir, logger)
			if err != nil {
				return nil, err
			}
			m.store = store
			if repo == nil {
				repo = storage.NewWorkflowRepository(store, clock, logger)
			}
			if lock == nil {
				lock = storage.NewLock(store, logger)
			}
		} else {
			if repo == nil {
				repo = memory.NewWorkflowRepository(clock)
			}
			if lock == nil {
				lock = memory.NewLock(clock)
			}
		}
	}
	m.repo = repo

	publisher := override.Publisher
	if publisher == nil {
		bus := events.NewBus(logger)
		m.bus = bus
		publisher = bus
	}
	m.publisher = publisher

	remote := override.Remote
	if remote == nil {
		remote = memory.NewRemoteClient()
	}

	m.saga = saga.NewCoordinator(logger)
	m.loads = loadbalancer.NewController(cfg.Load, clock, logger)
	m.engine = engine.NewService(
		repo,
		lock,
		publisher,
		remote,
		m.saga,
		engine.NewDefinitionRegistry(),
		cfg.Engine,
		m.metrics,
		clock,
		logger,
	)
	m.scheduler = scheduler.NewWavelessScheduler(repo, m.engine, m.loads, cfg.Scheduler, clock, logger)
	m.janitor = scheduler.NewJanitor(repo, m.engine, cfg.Engine, cfg.Scheduler.JanitorInterval, clock, logger)

	serviceID := cfg.NodeID
	if serviceID == "" {
		serviceID = "orchestration-engine"
	}
	m.collector = loadbalancer.NewCollector(m.loads, serviceID, serviceID, cfg.Load.SampleInterval, clock, logger)
	m.collector.SetQueueDepthFn(m.scheduler.QueueDepth)
	m.collector.SetErrorRateFn(m.recentErrorRate)

	return m, nil
}

// Start launches the waveless scheduler and load monitor loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return domain.NewInvalidStateError("manager.start", "manager already started")
	}

	m.scheduler.Start(ctx)
	m.collector.Start(ctx)
	m.janitor.Start(ctx)
	m.started = true

	m.logger.Info("orchestration engine started", "node_id", m.cfg.NodeID)
	return nil
}

// Stop halts the background loops and closes the store.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.scheduler.Stop()
		m.collector.Stop()
		m.janitor.Stop()
		m.started = false
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return err
		}
	}

	m.logger.Info("orchestration engine stopped")
	return nil
}

func (m *Manager) RegisterDefinition(def *WorkflowDefinition) error {
	return m.engine.Registry().Register(def)
}

func (m *Manager) StartWorkflow(ctx context.Context, cmd StartWorkflowCommand) (*Workflow, error) {
	return m.engine.StartWorkflow(ctx, cmd)
}

// Advance runs the workflow's next eligible step.
func (m *Manager) Advance(ctx context.Context, workflowID string) error {
	return m.engine.Advance(ctx, workflowID)
}

// ExecuteStep records an externally produced step result.
func (m *Manager) ExecuteStep(ctx context.Context, workflowID, stepID string, result StepResult) error {
	return m.engine.ExecuteStep(ctx, workflowID, stepID, result)
}

// FailStep records an externally observed step failure and runs recovery.
func (m *Manager) FailStep(ctx context.Context, workflowID, stepID string, stepErr WorkflowError) error {
	return m.engine.HandleStepFailure(ctx, workflowID, stepID, stepErr)
}

// ExecuteStepWithTimeout starts a pending step or, for one already running,
// synthesizes a timeout failure once its deadline has passed.
func (m *Manager) ExecuteStepWithTimeout(ctx context.Context, workflowID, stepID string) error {
	return m.engine.ExecuteStepWithTimeout(ctx, workflowID, stepID)
}

func (m *Manager) Pause(ctx context.Context, workflowID string) error {
	return m.engine.Pause(ctx, workflowID)
}

func (m *Manager) Resume(ctx context.Context, workflowID string) error {
	return m.engine.Resume(ctx, workflowID)
}

func (m *Manager) Cancel(ctx context.Context, workflowID, reason string) error {
	return m.engine.Cancel(ctx, workflowID, reason)
}

// Retry retries one step when stepID is non-empty, otherwise the workflow.
func (m *Manager) Retry(ctx context.Context, workflowID, stepID string) error {
	return m.engine.RetryWorkflow(ctx, workflowID, stepID)
}

// Compensate manually rolls back a workflow's completed steps.
func (m *Manager) Compensate(ctx context.Context, workflowID, reason string) error {
	return m.engine.CompensateWorkflow(ctx, workflowID, reason)
}

func (m *Manager) EnableWaveless(ctx context.Context, workflowID string) error {
	return m.engine.EnableWaveless(ctx, workflowID)
}

func (m *Manager) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	return m.engine.GetWorkflow(ctx, workflowID)
}

func (m *Manager) Progress(ctx context.Context, workflowID string) (float64, error) {
	w, err := m.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	return w.ProgressPercent(), nil
}

func (m *Manager) CompensationProgress(ctx context.Context, workflowID string) (float64, error) {
	w, err := m.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	return m.saga.CompensationProgress(w), nil
}

func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// EngineMetrics exposes the live counters for metric collectors.
func (m *Manager) EngineMetrics() *domain.EngineMetrics {
	return m.metrics
}

// ReportLoad feeds externally observed target-service samples into the load
// controller.
func (m *Manager) ReportLoad(samples []LoadMetrics) {
	m.loads.Monitor(samples)
}

// SelectTarget picks the least-loaded service able to accept new work.
func (m *Manager) SelectTarget() (string, bool) {
	return m.loads.SelectTarget()
}

func (m *Manager) ServiceHealth(serviceID string) string {
	return string(m.loads.HealthStatus(serviceID))
}

// Subscribe registers an event handler when the default in-process bus is in
// use; with an injected publisher it reports an invalid state.
func (m *Manager) Subscribe(eventType string, handler func(Event)) (func(), error) {
	if m.bus == nil {
		return nil, domain.NewInvalidStateError("manager.subscribe", "custom event publisher in use")
	}
	return m.bus.Subscribe(eventType, handler), nil
}

// WavelessMetrics summarizes the waveless queue.
func (m *Manager) WavelessMetrics(ctx context.Context) (map[string]any, error) {
	workflows, err := m.repo.FindForWavelessProcessing(ctx)
	if err != nil {
		return nil, err
	}
	return m.scheduler.WavelessMetrics(workflows), nil
}

// RebalanceSystemLoad pauses low-priority workflows when utilization exceeds
// the target fraction and resumes paused ones when well under it, then
// publishes a SystemLoadRebalanced event.
func (m *Manager) RebalanceSystemLoad(ctx context.Context, targetUtilization float64) error {
	active, err := m.repo.FindActive(ctx)
	if err != nil {
		return err
	}

	previous := averageUtilization(active)
	target := targetUtilization * 100

	switch {
	case previous > target:
		toPause := int(math.Ceil(float64(len(active)) * (previous - target) / 100))
		paused := 0
		for _, w := range active {
			if paused >= toPause {
				break
			}
			if w.Status != domain.WorkflowStatusExecuting || w.Priority != domain.PriorityLow {
				continue
			}
			if err := m.engine.Pause(ctx, w.ID); err != nil {
				m.logger.Warn("failed to pause workflow during rebalance", "workflow_id", w.ID, "error", err.Error())
				continue
			}
			paused++
		}
		m.logger.Info("rebalance paused low-priority workflows", "paused", paused, "load", previous)

	case previous < target*0.7:
		pausedWorkflows, err := m.repo.FindByStatus(ctx, domain.WorkflowStatusPaused)
		if err != nil {
			return err
		}
		for _, w := range pausedWorkflows {
			if err := m.engine.Resume(ctx, w.ID); err != nil {
				m.logger.Warn("failed to resume workflow during rebalance", "workflow_id", w.ID, "error", err.Error())
			}
		}
		m.logger.Info("rebalance resumed paused workflows", "resumed", len(pausedWorkflows), "load", previous)
	}

	refreshed, err := m.repo.FindActive(ctx)
	if err != nil {
		return err
	}

	event := domain.NewSystemLoadRebalancedEvent(
		m.cfg.NodeID,
		previous,
		averageUtilization(refreshed),
		m.loads.Scores(),
		"target utilization rebalance",
		m.clock.Now(),
	)
	return m.publisher.Publish(ctx, event)
}

func (m *Manager) recentErrorRate() float64 {
	snap := m.metrics.Snapshot()
	total := snap.StepsExecuted + snap.StepsFailed
	if total == 0 {
		return 0
	}
	return float64(snap.StepsFailed) / float64(total)
}

func averageUtilization(workflows []*domain.Workflow) float64 {
	if len(workflows) == 0 {
		return 0
	}
	sum := 0.0
	for _, w := range workflows {
		sum += w.Utilization()
	}
	return sum / float64(len(workflows))
}
