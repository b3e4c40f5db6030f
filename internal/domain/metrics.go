package domain

import "sync/atomic"

type EngineMetrics struct {
	WorkflowsStarted     atomic.Int64
	WorkflowsCompleted   atomic.Int64
	WorkflowsFailed      atomic.Int64
	WorkflowsCompensated atomic.Int64
	WorkflowsCancelled   atomic.Int64
	WorkflowsRetried     atomic.Int64

	StepsExecuted    atomic.Int64
	StepsFailed      atomic.Int64
	StepsRetried     atomic.Int64
	StepsCompensated atomic.Int64
	StepsTimedOut    atomic.Int64
	StepsSkipped     atomic.Int64

	EventsPublished   atomic.Int64
	BatchesDispatched atomic.Int64
	LockContention    atomic.Int64
}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

type MetricsSnapshot struct {
	WorkflowsStarted     int64 `json:"workflows_started"`
	WorkflowsCompleted   int64 `json:"workflows_completed"`
	WorkflowsFailed      int64 `json:"workflows_failed"`
	WorkflowsCompensated int64 `json:"workflows_compensated"`
	WorkflowsCancelled   int64 `json:"workflows_cancelled"`
	WorkflowsRetried     int64 `json:"workflows_retried"`

	StepsExecuted    int64 `json:"steps_executed"`
	StepsFailed      int64 `json:"steps_failed"`
	StepsRetried     int64 `json:"steps_retried"`
	StepsCompensated int64 `json:"steps_compensated"`
	StepsTimedOut    int64 `json:"steps_timed_out"`
	StepsSkipped     int64 `json:"steps_skipped"`

	EventsPublished   int64 `json:"events_published"`
	BatchesDispatched int64 `json:"batches_dispatched"`
	LockContention    int64 `json:"lock_contention"`
}

func (m *EngineMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		WorkflowsStarted:     m.WorkflowsStarted.Load(),
		WorkflowsCompleted:   m.WorkflowsCompleted.Load(),
		WorkflowsFailed:      m.WorkflowsFailed.Load(),
		WorkflowsCompensated: m.WorkflowsCompensated.Load(),
		WorkflowsCancelled:   m.WorkflowsCancelled.Load(),
		WorkflowsRetried:     m.WorkflowsRetried.Load(),
		StepsExecuted:        m.StepsExecuted.Load(),
		StepsFailed:          m.StepsFailed.Load(),
		StepsRetried:         m.StepsRetried.Load(),
		StepsCompensated:     m.StepsCompensated.Load(),
		StepsTimedOut:        m.StepsTimedOut.Load(),
		StepsSkipped:         m.StepsSkipped.Load(),
		EventsPublished:      m.EventsPublished.Load(),
		BatchesDispatched:    m.BatchesDispatched.Load(),
		LockContention:       m.LockContention.Load(),
	}
}
