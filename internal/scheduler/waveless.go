package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/engine"
	"github.com/paklog/wes-orchestration-engine/internal/loadbalancer"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// WavelessScheduler continuously admits pending workflows in priority-ordered
// batches whose size and interval adapt to system load. It checkpoints no
// state of its own; everything it needs comes back from the repository each
// tick.
type WavelessScheduler struct {
	repo    ports.WorkflowRepository
	exec    *engine.Service
	loads   *loadbalancer.Controller
	cfg     domain.SchedulerConfig
	clock   ports.Clock
	metrics *domain.EngineMetrics
	logger  *slog.Logger

	mu         sync.RWMutex
	queueDepth int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWavelessScheduler(
	repo ports.WorkflowRepository,
	exec *engine.Service,
	loads *loadbalancer.Controller,
	cfg domain.SchedulerConfig,
	clock ports.Clock,
	logger *slog.Logger,
) *WavelessScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg = domain.DefaultSchedulerConfig()
	}

	return &WavelessScheduler{
		repo:    repo,
		exec:    exec,
		loads:   loads,
		cfg:     cfg,
		clock:   clock,
		metrics: exec.Metrics(),
		logger:  logger.With("component", "waveless-scheduler"),
	}
}

func (s *WavelessScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("waveless scheduler started",
			"default_batch_size", s.cfg.DefaultBatchSize,
			"default_interval", s.cfg.DefaultInterval,
		)

		interval := s.cfg.DefaultInterval
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("waveless scheduler stopped")
				return
			case <-timer.C:
				queueDepth := s.tick(ctx)
				interval = s.ProcessingInterval(queueDepth)
				timer.Reset(interval)
			}
		}
	}()
}

func (s *WavelessScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// QueueDepth reports the pending backlog observed at the last tick.
func (s *WavelessScheduler) QueueDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queueDepth
}

func (s *WavelessScheduler) tick(ctx context.Context) int {
	candidates, err := s.repo.FindForWavelessProcessing(ctx)
	if err != nil {
		s.logger.Error("failed to query admission candidates", "error", err.Error())
		return s.QueueDepth()
	}

	eligible := s.filterEligible(candidates)

	s.mu.Lock()
	s.queueDepth = len(eligible)
	s.mu.Unlock()

	if len(eligible) == 0 {
		return 0
	}

	if s.loads.ShouldPauseWaveless() {
		s.logger.Debug("admission gate closed, yielding tick", "pending", len(eligible))
		return len(eligible)
	}

	now := s.clock.Now()
	dispatched := make(map[string]bool)

	for _, w := range eligible {
		if s.ShouldProcessImmediately(w, now) {
			s.dispatch(ctx, w)
			dispatched[w.ID] = true
		}
	}

	batchSize := s.OptimalBatchSize(s.loads.SystemLoadScore())
	batch := s.BuildBatch(eligible, batchSize)

	for _, w := range batch {
		if dispatched[w.ID] {
			continue
		}
		s.dispatch(ctx, w)
	}

	s.metrics.BatchesDispatched.Add(1)
	s.logger.Debug("tick complete",
		"eligible", len(eligible),
		"batch_size", batchSize,
		"dispatched", len(batch),
	)
	return len(eligible)
}

func (s *WavelessScheduler) dispatch(ctx context.Context, w *domain.Workflow) {
	if err := s.exec.Advance(ctx, w.ID); err != nil {
		if domain.IsInvalidState(err) || domain.IsVersionConflict(err) {
			s.logger.Debug("workflow not admissible this tick", "workflow_id", w.ID, "error", err.Error())
			return
		}
		s.logger.Error("failed to advance workflow", "workflow_id", w.ID, "error", err.Error())
	}
}

// filterEligible keeps workflows the waveless path admits: pending or
// executing instances that are high priority or of a waveless-capable type,
// with any pending retry already due.
func (s *WavelessScheduler) filterEligible(candidates []*domain.Workflow) []*domain.Workflow {
	now := s.clock.Now()
	out := make([]*domain.Workflow, 0, len(candidates))

	for _, w := range candidates {
		if w.Status != domain.WorkflowStatusPending && w.Status != domain.WorkflowStatusExecuting {
			continue
		}
		if w.Priority != domain.PriorityHigh && !w.Type.SupportsWaveless() {
			continue
		}
		if w.CurrentStepID != "" {
			if due, ok := engine.RetryDueAt(w, w.CurrentStepID); ok && now.Before(due) {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// BuildBatch sorts by priority (high first) with createdAt as the tie-break
// and takes the first batchSize entries.
func (s *WavelessScheduler) BuildBatch(workflows []*domain.Workflow, batchSize int) []*domain.Workflow {
	sorted := append([]*domain.Workflow(nil), workflows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority.Level() != sorted[j].Priority.Level() {
			return sorted[i].Priority.Level() < sorted[j].Priority.Level()
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	if batchSize < len(sorted) {
		sorted = sorted[:batchSize]
	}
	return sorted
}

// OptimalBatchSize shrinks the batch under load and grows it when the system
// is underutilized.
func (s *WavelessScheduler) OptimalBatchSize(systemLoad float64) int {
	def := s.cfg.DefaultBatchSize
	switch {
	case systemLoad >= 95:
		return max(1, def/4)
	case systemLoad >= 85:
		return max(1, def/2)
	case systemLoad < 50:
		return def * 2
	default:
		return def
	}
}

// ProcessingInterval ticks faster as the backlog grows.
func (s *WavelessScheduler) ProcessingInterval(queueDepth int) time.Duration {
	switch {
	case queueDepth > 100:
		return 500 * time.Millisecond
	case queueDepth > 50:
		return time.Second
	case queueDepth < 10:
		return 2 * time.Second
	default:
		return time.Second
	}
}

// RecommendedBatchSize layers a queue-depth adjustment over load-based
// sizing: a deep backlog doubles the batch (capped), a shallow one halves it
// (floored).
func (s *WavelessScheduler) RecommendedBatchSize(systemLoad float64, queueDepth int) int {
	size := s.OptimalBatchSize(systemLoad)

	if queueDepth > 100 {
		size = min(size*2, s.cfg.MaxBatchSize)
	} else if queueDepth < 10 {
		size = max(size/2, 5)
	}
	return size
}

// ShouldProcessImmediately bypasses batching for high-priority work and for
// workflows that waited past the immediate-age cutoff.
func (s *WavelessScheduler) ShouldProcessImmediately(w *domain.Workflow, now time.Time) bool {
	if w.Priority == domain.PriorityHigh {
		return true
	}
	return !w.CreatedAt.IsZero() && now.Sub(w.CreatedAt) > s.cfg.ImmediateAge
}

// WavelessMetrics summarizes the waveless queue for operators.
func (s *WavelessScheduler) WavelessMetrics(workflows []*domain.Workflow) map[string]any {
	var high, normal, low, active int
	var progress float64

	for _, w := range workflows {
		switch w.Priority {
		case domain.PriorityHigh:
			high++
		case domain.PriorityNormal:
			normal++
		case domain.PriorityLow:
			low++
		}
		if w.IsActive() {
			active++
		}
		progress += w.ProgressPercent()
	}

	avgProgress := 0.0
	if len(workflows) > 0 {
		avgProgress = progress / float64(len(workflows))
	}

	return map[string]any{
		"totalWorkflows":  len(workflows),
		"highPriority":    high,
		"normalPriority":  normal,
		"lowPriority":     low,
		"activeWorkflows": active,
		"queueDepth":      len(workflows) - active,
		"averageProgress": avgProgress,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
