package loadbalancer

import (
	"log/slog"
	"math"
	"sync"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// Controller aggregates per-target load metrics and drives target selection,
// rebalancing and admission decisions. The service map is process-wide and
// guarded here; callers only see copies.
type Controller struct {
	cfg    domain.LoadConfig
	clock  ports.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	services map[string]*domain.ServiceLoad
}

func NewController(cfg domain.LoadConfig, clock ports.Clock, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if cfg.TargetUtilization <= 0 {
		cfg = domain.DefaultLoadConfig()
	}

	return &Controller{
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With("component", "load-controller"),
		services: make(map[string]*domain.ServiceLoad),
	}
}

// Monitor indexes a batch of samples per service id.
func (c *Controller) Monitor(metrics []domain.LoadMetrics) {
	for _, m := range metrics {
		c.Update(m)
	}
}

func (c *Controller) Update(m domain.LoadMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	svc, ok := c.services[m.ServiceID]
	if !ok {
		svc = domain.NewServiceLoad(m.ServiceID, m.ServiceName)
		c.services[m.ServiceID] = svc
	}
	svc.Update(m)
}

func (c *Controller) Service(serviceID string) (*domain.ServiceLoad, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[serviceID]
	return svc, ok
}

// Scores returns the current load score per service.
func (c *Controller) Scores() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(c.services))
	for id, svc := range c.services {
		out[id] = svc.Score()
	}
	return out
}

// NeedsRebalance is true when any service is overloaded or the score spread
// across services exceeds the configured threshold.
func (c *Controller) NeedsRebalance() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.services) == 0 {
		return false
	}

	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, svc := range c.services {
		if svc.Overloaded() {
			c.logger.Warn("service overloaded", "service_id", svc.ServiceID, "score", svc.Score())
			return true
		}
		score := svc.Score()
		if score < min {
			min = score
		}
		if score > max {
			max = score
		}
	}

	if len(c.services) >= 2 && max-min > c.cfg.SpreadThreshold {
		c.logger.Info("load distribution uneven", "spread", max-min)
		return true
	}
	return false
}

// Strategy computes a target load per service. It only reports the targets;
// it changes no service state and nothing moves retroactively.
func (c *Controller) Strategy() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make(map[string]float64, len(c.services))
	for id, svc := range c.services {
		current := svc.Score()
		switch {
		case current > c.cfg.CriticalThreshold:
			targets[id] = c.cfg.TargetUtilization * 0.8
		case current > c.cfg.TargetUtilization:
			targets[id] = c.cfg.TargetUtilization
		case current < c.cfg.TargetUtilization*0.5:
			targets[id] = c.cfg.TargetUtilization * 0.7
		default:
			targets[id] = current
		}
	}
	return targets
}

// SelectTarget picks the lowest-scored service that can accept work. Empty
// means the scheduler should yield.
func (c *Controller) SelectTarget() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	best := ""
	bestScore := math.MaxFloat64
	for id, svc := range c.services {
		if !svc.CanAcceptWork() || svc.ErrorRate() >= c.cfg.ErrorRateThreshold {
			continue
		}
		if score := svc.Score(); score < bestScore {
			best = id
			bestScore = score
		}
	}

	if best == "" {
		c.logger.Warn("no service can accept new work")
		return "", false
	}
	return best, true
}

func (c *Controller) ShouldTripCircuitBreaker(serviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[serviceID]
	if !ok {
		return false
	}
	return svc.ShouldTripCircuitBreaker(c.cfg.ErrorRateThreshold, 10)
}

func (c *Controller) HealthStatus(serviceID string) domain.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[serviceID]
	if !ok {
		return domain.HealthHealthy
	}

	score := svc.Score()
	switch {
	case score >= c.cfg.CriticalThreshold:
		return domain.HealthCritical
	case score >= c.cfg.TargetUtilization:
		return domain.HealthWarning
	case svc.ErrorRate() > c.cfg.ErrorRateThreshold:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

// SystemLoadScore averages load across all known services.
func (c *Controller) SystemLoadScore() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.services) == 0 {
		return 0
	}

	sum := 0.0
	for _, svc := range c.services {
		sum += svc.Score()
	}
	return sum / float64(len(c.services))
}

func (c *Controller) MaxErrorRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	max := 0.0
	for _, svc := range c.services {
		if svc.ErrorRate() > max {
			max = svc.ErrorRate()
		}
	}
	return max
}

// ShouldPauseWaveless gates scheduler admission: a saturated or failing
// system stops taking new batches.
func (c *Controller) ShouldPauseWaveless() bool {
	score := c.SystemLoadScore()
	if score >= c.cfg.CriticalThreshold {
		c.logger.Warn("system overloaded, pausing waveless admission", "score", score)
		return true
	}

	if rate := c.MaxErrorRate(); rate >= c.cfg.ErrorRateThreshold {
		c.logger.Warn("error rate too high, pausing waveless admission", "error_rate", rate)
		return true
	}
	return false
}

func (c *Controller) AvailableCapacity() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.services) == 0 {
		return 0
	}

	sum := 0.0
	for _, svc := range c.services {
		sum += svc.AvailableCapacity()
	}
	return sum / float64(len(c.services))
}
