package loadbalancer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// Collector is the load-monitor background loop. It samples host cpu/memory
// and engine gauges for the local target and feeds the controller. No state
// survives outside the controller's in-process history.
type Collector struct {
	controller  *Controller
	serviceID   string
	serviceName string
	interval    time.Duration
	clock       ports.Clock
	logger      *slog.Logger

	activeRequests atomic.Int64
	queueDepthFn   func() int
	errorRateFn    func() float64
	responseTimeMs atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCollector(controller *Controller, serviceID, serviceName string, interval time.Duration, clock ports.Clock, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Collector{
		controller:  controller,
		serviceID:   serviceID,
		serviceName: serviceName,
		interval:    interval,
		clock:       clock,
		logger:      logger.With("component", "load-collector"),
	}
}

// SetQueueDepthFn wires the scheduler's pending-queue gauge.
func (c *Collector) SetQueueDepthFn(fn func() int) { c.queueDepthFn = fn }

// SetErrorRateFn wires the engine's recent error-rate gauge.
func (c *Collector) SetErrorRateFn(fn func() float64) { c.errorRateFn = fn }

func (c *Collector) IncActiveRequests() { c.activeRequests.Add(1) }

func (c *Collector) DecActiveRequests() { c.activeRequests.Add(-1) }

func (c *Collector) ObserveResponseTime(d time.Duration) {
	c.responseTimeMs.Store(d.Milliseconds())
}

func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("load collector started", "service_id", c.serviceID, "interval", c.interval)
		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("load collector stopped")
				return
			case <-ticker.C:
				c.sample()
			}
		}
	}()
}

func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Collector) sample() {
	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	} else if err != nil {
		c.logger.Warn("cpu sample failed", "error", err.Error())
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	} else {
		c.logger.Warn("memory sample failed", "error", err.Error())
	}

	queueDepth := 0
	if c.queueDepthFn != nil {
		queueDepth = c.queueDepthFn()
	}
	errorRate := 0.0
	if c.errorRateFn != nil {
		errorRate = c.errorRateFn()
	}

	metrics := domain.NewLoadMetrics(
		c.serviceID,
		c.serviceName,
		cpuPercent,
		memPercent,
		int(c.activeRequests.Load()),
		queueDepth,
		c.responseTimeMs.Load(),
		errorRate,
		c.clock.Now(),
	)
	c.controller.Update(metrics)

	c.logger.Debug("load sampled",
		"service_id", c.serviceID,
		"cpu", cpuPercent,
		"memory", memPercent,
		"queue_depth", queueDepth,
		"score", metrics.Score(),
	)
}
