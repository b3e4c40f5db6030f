package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/engine"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// Janitor is the timeout sweep: it cancels workflows that outlived their
// budget and synthesizes timeout failures for steps stuck executing past
// their per-step deadline.
type Janitor struct {
	repo     ports.WorkflowRepository
	exec     *engine.Service
	cfg      domain.EngineConfig
	interval time.Duration
	clock    ports.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(repo ports.WorkflowRepository, exec *engine.Service, cfg domain.EngineConfig, interval time.Duration, clock ports.Clock, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &Janitor{
		repo:     repo,
		exec:     exec,
		cfg:      cfg,
		interval: interval,
		clock:    clock,
		logger:   logger.With("component", "timeout-janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.logger.Info("timeout janitor started", "interval", j.interval, "workflow_timeout", j.cfg.WorkflowTimeout)
		for {
			select {
			case <-ctx.Done():
				j.logger.Debug("timeout janitor stopped")
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) sweep(ctx context.Context) {
	active, err := j.repo.FindActive(ctx)
	if err != nil {
		j.logger.Error("failed to query active workflows", "error", err.Error())
		return
	}

	now := j.clock.Now()
	for _, w := range active {
		if w.Status != domain.WorkflowStatusExecuting {
			continue
		}

		if j.cfg.WorkflowTimeout > 0 && w.HasTimedOut(j.cfg.WorkflowTimeout) {
			j.logger.Warn("workflow exceeded its execution budget", "workflow_id", w.ID, "timeout", j.cfg.WorkflowTimeout)
			if err := j.exec.Cancel(ctx, w.ID, "timeout"); err != nil && !domain.IsInvalidState(err) {
				j.logger.Error("failed to cancel timed-out workflow", "workflow_id", w.ID, "error", err.Error())
			}
			continue
		}

		for _, step := range w.Steps() {
			if step.Status != domain.StepStatusExecuting || !step.HasTimedOut(now) {
				continue
			}
			j.logger.Warn("step exceeded its deadline", "workflow_id", w.ID, "step_id", step.StepID, "timeout", step.Timeout)
			if err := j.exec.ExecuteStepWithTimeout(ctx, w.ID, step.StepID); err != nil && !domain.IsInvalidState(err) {
				j.logger.Error("failed to time out step", "workflow_id", w.ID, "step_id", step.StepID, "error", err.Error())
			}
		}
	}
}
