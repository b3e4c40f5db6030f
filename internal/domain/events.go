package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event queued on the workflow outbox and published after
// the persisted write commits.
type Event interface {
	Metadata() EventMeta
}

type EventMeta struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	AggregateID string    `json:"aggregate_id"`
	Version     int64     `json:"version"`
}

func (m EventMeta) Metadata() EventMeta { return m }

func newEventMeta(eventType, aggregateID string, version int64, at time.Time) EventMeta {
	return EventMeta{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  at,
		AggregateID: aggregateID,
		Version:     version,
	}
}

const (
	EventTypeWorkflowStarted               = "WorkflowStarted"
	EventTypeWorkflowStepExecuted          = "WorkflowStepExecuted"
	EventTypeWorkflowStepFailed            = "WorkflowStepFailed"
	EventTypeWorkflowFailed                = "WorkflowFailed"
	EventTypeWorkflowCompleted             = "WorkflowCompleted"
	EventTypeWorkflowPaused                = "WorkflowPaused"
	EventTypeWorkflowResumed               = "WorkflowResumed"
	EventTypeWorkflowCancelled             = "WorkflowCancelled"
	EventTypeWorkflowRetry                 = "WorkflowRetry"
	EventTypeWorkflowCompensationStarted   = "WorkflowCompensationStarted"
	EventTypeWorkflowCompensationCompleted = "WorkflowCompensationCompleted"
	EventTypeWavelessProcessingEnabled     = "WavelessProcessingEnabled"
	EventTypeSystemLoadRebalanced          = "SystemLoadRebalanced"
)

type WorkflowStartedEvent struct {
	EventMeta
	WorkflowID    string       `json:"workflow_id"`
	DefinitionID  string       `json:"definition_id"`
	WorkflowType  WorkflowType `json:"workflow_type"`
	CorrelationID string       `json:"correlation_id"`
	StartedAt     time.Time    `json:"started_at"`
}

type WorkflowStepExecutedEvent struct {
	EventMeta
	WorkflowID string     `json:"workflow_id"`
	StepID     string     `json:"step_id"`
	StepName   string     `json:"step_name"`
	Result     StepResult `json:"result"`
	ExecutedAt time.Time  `json:"executed_at"`
}

type WorkflowStepFailedEvent struct {
	EventMeta
	WorkflowID string        `json:"workflow_id"`
	StepID     string        `json:"step_id"`
	StepName   string        `json:"step_name"`
	Err        WorkflowError `json:"error"`
	WillRetry  bool          `json:"will_retry"`
	RetryCount int           `json:"retry_count"`
	FailedAt   time.Time     `json:"failed_at"`
}

type WorkflowFailedEvent struct {
	EventMeta
	WorkflowID           string        `json:"workflow_id"`
	Err                  WorkflowError `json:"error"`
	FailedStepID         string        `json:"failed_step_id,omitempty"`
	FailedAt             time.Time     `json:"failed_at"`
	CompensationRequired bool          `json:"compensation_required"`
}

type WorkflowCompletedEvent struct {
	EventMeta
	WorkflowID  string         `json:"workflow_id"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
	TotalSteps  int            `json:"total_steps"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

type WorkflowPausedEvent struct {
	EventMeta
	WorkflowID    string    `json:"workflow_id"`
	PausedAt      time.Time `json:"paused_at"`
	CurrentStepID string    `json:"current_step_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type WorkflowResumedEvent struct {
	EventMeta
	WorkflowID string    `json:"workflow_id"`
	ResumedAt  time.Time `json:"resumed_at"`
	FromStepID string    `json:"from_step_id,omitempty"`
}

type WorkflowCancelledEvent struct {
	EventMeta
	WorkflowID  string    `json:"workflow_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type WorkflowRetryEvent struct {
	EventMeta
	WorkflowID string    `json:"workflow_id"`
	RetryCount int       `json:"retry_count"`
	RetriedAt  time.Time `json:"retried_at"`
}

type WorkflowCompensationStartedEvent struct {
	EventMeta
	WorkflowID        string    `json:"workflow_id"`
	StepsToCompensate []string  `json:"steps_to_compensate"`
	StartedAt         time.Time `json:"started_at"`
	Reason            string    `json:"reason,omitempty"`
}

type WorkflowCompensationCompletedEvent struct {
	EventMeta
	WorkflowID       string    `json:"workflow_id"`
	CompensatedSteps []string  `json:"compensated_steps"`
	Successful       bool      `json:"successful"`
	CompletedAt      time.Time `json:"completed_at"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

type WavelessProcessingEnabledEvent struct {
	EventMeta
	WorkflowID string        `json:"workflow_id"`
	BatchSize  int           `json:"batch_size"`
	Interval   time.Duration `json:"interval"`
	EnabledAt  time.Time     `json:"enabled_at"`
}

type SystemLoadRebalancedEvent struct {
	EventMeta
	ServiceID    string             `json:"service_id"`
	PreviousLoad float64            `json:"previous_load"`
	CurrentLoad  float64            `json:"current_load"`
	ServiceLoads map[string]float64 `json:"service_loads,omitempty"`
	RebalancedAt time.Time          `json:"rebalanced_at"`
	Reason       string             `json:"reason,omitempty"`
}

// NewSystemLoadRebalancedEvent is built outside an aggregate: load rebalancing
// is a system-level concern, not tied to one workflow.
func NewSystemLoadRebalancedEvent(serviceID string, previousLoad, currentLoad float64, serviceLoads map[string]float64, reason string, at time.Time) SystemLoadRebalancedEvent {
	return SystemLoadRebalancedEvent{
		EventMeta:    newEventMeta(EventTypeSystemLoadRebalanced, "system", 0, at),
		ServiceID:    serviceID,
		PreviousLoad: previousLoad,
		CurrentLoad:  currentLoad,
		ServiceLoads: serviceLoads,
		RebalancedAt: at,
		Reason:       reason,
	}
}
