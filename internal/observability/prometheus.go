package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// EngineCollector exposes the engine counters to Prometheus.
type EngineCollector struct {
	metrics *domain.EngineMetrics
	descs   map[string]*prometheus.Desc
}

func NewEngineCollector(metrics *domain.EngineMetrics) *EngineCollector {
	names := []string{
		"workflows_started_total",
		"workflows_completed_total",
		"workflows_failed_total",
		"workflows_compensated_total",
		"workflows_cancelled_total",
		"workflows_retried_total",
		"steps_executed_total",
		"steps_failed_total",
		"steps_retried_total",
		"steps_compensated_total",
		"steps_timed_out_total",
		"events_published_total",
		"batches_dispatched_total",
		"lock_contention_total",
	}

	descs := make(map[string]*prometheus.Desc, len(names))
	for _, name := range names {
		descs[name] = prometheus.NewDesc("orchestration_"+name, "", nil, nil)
	}

	return &EngineCollector{metrics: metrics, descs: descs}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	values := map[string]int64{
		"workflows_started_total":     snap.WorkflowsStarted,
		"workflows_completed_total":   snap.WorkflowsCompleted,
		"workflows_failed_total":      snap.WorkflowsFailed,
		"workflows_compensated_total": snap.WorkflowsCompensated,
		"workflows_cancelled_total":   snap.WorkflowsCancelled,
		"workflows_retried_total":     snap.WorkflowsRetried,
		"steps_executed_total":        snap.StepsExecuted,
		"steps_failed_total":          snap.StepsFailed,
		"steps_retried_total":         snap.StepsRetried,
		"steps_compensated_total":     snap.StepsCompensated,
		"steps_timed_out_total":       snap.StepsTimedOut,
		"events_published_total":      snap.EventsPublished,
		"batches_dispatched_total":    snap.BatchesDispatched,
		"lock_contention_total":       snap.LockContention,
	}

	for name, value := range values {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(value))
	}
}

// Register attaches the engine collector to a Prometheus registry.
func Register(reg prometheus.Registerer, metrics *domain.EngineMetrics) error {
	return reg.Register(NewEngineCollector(metrics))
}
