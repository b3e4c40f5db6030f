package domain

import "time"

type CompensationStrategy string

const (
	CompensationReverseOperation CompensationStrategy = "reverse-operation"
	CompensationDeleteCreated    CompensationStrategy = "delete-created"
	CompensationRestoreState     CompensationStrategy = "restore-state"
	CompensationCustom           CompensationStrategy = "custom"
)

type CompensationAction struct {
	ActionID    string               `json:"action_id"`
	StepID      string               `json:"step_id"`
	ServiceName string               `json:"service_name"`
	Operation   string               `json:"operation"`
	Parameters  map[string]any       `json:"parameters,omitempty"`
	Strategy    CompensationStrategy `json:"strategy"`
	Idempotent  bool                 `json:"idempotent"`
	MaxRetries  int                  `json:"max_retries"`
	Timeout     time.Duration        `json:"timeout"`
}

func (a *CompensationAction) Valid() bool {
	if a == nil {
		return false
	}
	return a.ActionID != "" && a.StepID != "" && a.ServiceName != "" &&
		a.Operation != "" && a.Strategy != ""
}

func ReverseOperation(stepID, serviceName, operation string, parameters map[string]any) *CompensationAction {
	return &CompensationAction{
		ActionID:    "comp-" + stepID,
		StepID:      stepID,
		ServiceName: serviceName,
		Operation:   operation,
		Parameters:  parameters,
		Strategy:    CompensationReverseOperation,
		Idempotent:  true,
		MaxRetries:  3,
		Timeout:     5 * time.Second,
	}
}

func DeleteCreated(stepID, serviceName, resourceID string) *CompensationAction {
	return &CompensationAction{
		ActionID:    "comp-" + stepID,
		StepID:      stepID,
		ServiceName: serviceName,
		Operation:   "delete",
		Parameters:  map[string]any{"resourceId": resourceID},
		Strategy:    CompensationDeleteCreated,
		Idempotent:  true,
		MaxRetries:  3,
		Timeout:     5 * time.Second,
	}
}

func RestoreState(stepID, serviceName string, previousState map[string]any) *CompensationAction {
	return &CompensationAction{
		ActionID:    "comp-" + stepID,
		StepID:      stepID,
		ServiceName: serviceName,
		Operation:   "restore",
		Parameters:  previousState,
		Strategy:    CompensationRestoreState,
		Idempotent:  true,
		MaxRetries:  3,
		Timeout:     5 * time.Second,
	}
}
