package domain

import "time"

// WorkflowSnapshot is the persisted representation of the aggregate: a plain
// record carrying fields and version. Repository adapters serialize it;
// Snapshot and FromSnapshot are the mappers at that boundary.
type WorkflowSnapshot struct {
	ID            string           `json:"id"`
	DefinitionID  string           `json:"definition_id"`
	Name          string           `json:"name"`
	Type          WorkflowType     `json:"type"`
	Status        WorkflowStatus   `json:"status"`
	Priority      WorkflowPriority `json:"priority"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
	TriggeredBy   string           `json:"triggered_by,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`

	Context map[string]any `json:"context,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Output  map[string]any `json:"output,omitempty"`

	Steps            []StepSnapshot  `json:"steps"`
	ExecutedSteps    []string        `json:"executed_steps,omitempty"`
	CompensatedSteps []string        `json:"compensated_steps,omitempty"`
	Errors           []WorkflowError `json:"errors,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StepSnapshot struct {
	StepID         string     `json:"step_id"`
	StepName       string     `json:"step_name"`
	StepType       string     `json:"step_type,omitempty"`
	ServiceName    string     `json:"service_name"`
	Operation      string     `json:"operation"`
	ExecutionOrder int        `json:"execution_order"`
	Status         StepStatus `json:"status"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Result *StepResult    `json:"result,omitempty"`

	RetriesRemaining int                 `json:"retries_remaining"`
	RetryCount       int                 `json:"retry_count"`
	Policy           RetryPolicy         `json:"policy"`
	Compensation     *CompensationAction `json:"compensation,omitempty"`

	Timeout     time.Duration `json:"timeout"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  int64         `json:"duration_ms,omitempty"`

	Compensated   bool       `json:"compensated"`
	CompensatedAt *time.Time `json:"compensated_at,omitempty"`

	LastError    *WorkflowError `json:"last_error,omitempty"`
	RetryPending bool           `json:"retry_pending,omitempty"`
}

// Snapshot copies the aggregate into its persisted record. The pending event
// queue is deliberately excluded: events live in the outbox, not the store.
func (w *Workflow) Snapshot() WorkflowSnapshot {
	snap := WorkflowSnapshot{
		ID:               w.ID,
		DefinitionID:     w.DefinitionID,
		Name:             w.Name,
		Type:             w.Type,
		Status:           w.Status,
		Priority:         w.Priority,
		CurrentStepID:    w.CurrentStepID,
		TriggeredBy:      w.TriggeredBy,
		CorrelationID:    w.CorrelationID,
		Input:            copyMap(w.Input),
		Output:           copyMap(w.Output),
		ExecutedSteps:    append([]string(nil), w.ExecutedSteps...),
		CompensatedSteps: append([]string(nil), w.CompensatedSteps...),
		Errors:           append([]WorkflowError(nil), w.Errors...),
		RetryCount:       w.RetryCount,
		MaxRetries:       w.MaxRetries,
		StartedAt:        copyTime(w.StartedAt),
		CompletedAt:      copyTime(w.CompletedAt),
		DurationMs:       w.DurationMs,
		Version:          w.Version,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
	if w.Context != nil {
		snap.Context = w.Context.Values()
	}

	for _, id := range w.stepOrder {
		s := w.steps[id]
		snap.Steps = append(snap.Steps, StepSnapshot{
			StepID:           s.StepID,
			StepName:         s.StepName,
			StepType:         s.StepType,
			ServiceName:      s.ServiceName,
			Operation:        s.Operation,
			ExecutionOrder:   s.ExecutionOrder,
			Status:           s.Status,
			Input:            copyMap(s.Input),
			Output:           copyMap(s.Output),
			Result:           s.Result,
			RetriesRemaining: s.RetriesRemaining,
			RetryCount:       s.RetryCount,
			Policy:           s.Policy,
			Compensation:     s.Compensation,
			Timeout:          s.Timeout,
			StartedAt:        copyTime(s.StartedAt),
			CompletedAt:      copyTime(s.CompletedAt),
			DurationMs:       s.DurationMs,
			Compensated:      s.Compensated,
			CompensatedAt:    copyTime(s.CompensatedAt),
			LastError:        s.LastError,
			RetryPending:     s.retryPending,
		})
	}

	return snap
}

// FromSnapshot rehydrates the aggregate from its persisted record. Step order
// follows the snapshot's slice order.
func FromSnapshot(snap WorkflowSnapshot, clock Clock) *Workflow {
	if clock == nil {
		clock = SystemClock()
	}

	w := &Workflow{
		ID:               snap.ID,
		DefinitionID:     snap.DefinitionID,
		Name:             snap.Name,
		Type:             snap.Type,
		Status:           snap.Status,
		Priority:         snap.Priority,
		CurrentStepID:    snap.CurrentStepID,
		TriggeredBy:      snap.TriggeredBy,
		CorrelationID:    snap.CorrelationID,
		Context:          ExecutionContextFrom(snap.Context),
		Input:            copyMap(snap.Input),
		Output:           copyMap(snap.Output),
		ExecutedSteps:    append([]string(nil), snap.ExecutedSteps...),
		CompensatedSteps: append([]string(nil), snap.CompensatedSteps...),
		Errors:           append([]WorkflowError(nil), snap.Errors...),
		RetryCount:       snap.RetryCount,
		MaxRetries:       snap.MaxRetries,
		StartedAt:        copyTime(snap.StartedAt),
		CompletedAt:      copyTime(snap.CompletedAt),
		DurationMs:       snap.DurationMs,
		Version:          snap.Version,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
		steps:            make(map[string]*StepExecution, len(snap.Steps)),
		clock:            clock,
	}

	for _, ss := range snap.Steps {
		step := &StepExecution{
			StepID:           ss.StepID,
			StepName:         ss.StepName,
			StepType:         ss.StepType,
			ServiceName:      ss.ServiceName,
			Operation:        ss.Operation,
			ExecutionOrder:   ss.ExecutionOrder,
			Status:           ss.Status,
			Input:            copyMap(ss.Input),
			Output:           copyMap(ss.Output),
			Result:           ss.Result,
			RetriesRemaining: ss.RetriesRemaining,
			RetryCount:       ss.RetryCount,
			Policy:           ss.Policy,
			Compensation:     ss.Compensation,
			Timeout:          ss.Timeout,
			StartedAt:        copyTime(ss.StartedAt),
			CompletedAt:      copyTime(ss.CompletedAt),
			DurationMs:       ss.DurationMs,
			Compensated:      ss.Compensated,
			CompensatedAt:    copyTime(ss.CompensatedAt),
			LastError:        ss.LastError,
			retryPending:     ss.RetryPending,
		}
		w.steps[ss.StepID] = step
		w.stepOrder = append(w.stepOrder, ss.StepID)
	}

	return w
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
