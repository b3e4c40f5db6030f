package domain

import "time"

type StepResult struct {
	StepID          string            `json:"step_id"`
	Success         bool              `json:"success"`
	Output          map[string]any    `json:"output,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	CompletedAt     time.Time         `json:"completed_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func SuccessResult(stepID string, output map[string]any, executionTime time.Duration, at time.Time) StepResult {
	return StepResult{
		StepID:          stepID,
		Success:         true,
		Output:          output,
		ExecutionTimeMs: executionTime.Milliseconds(),
		CompletedAt:     at,
	}
}

func FailureResult(stepID, errorCode, errorMessage string, executionTime time.Duration, at time.Time) StepResult {
	return StepResult{
		StepID:          stepID,
		Success:         false,
		ErrorCode:       errorCode,
		ErrorMessage:    errorMessage,
		ExecutionTimeMs: executionTime.Milliseconds(),
		CompletedAt:     at,
	}
}

func (r StepResult) OutputValue(key string) (any, bool) {
	if r.Output == nil {
		return nil, false
	}
	v, ok := r.Output[key]
	return v, ok
}

func (r StepResult) ExceededTimeout(timeout time.Duration) bool {
	return timeout > 0 && r.ExecutionTimeMs > timeout.Milliseconds()
}
