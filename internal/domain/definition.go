package domain

import (
	"fmt"
	"sort"
	"time"
)

// WorkflowDefinition is the template a workflow instance is built from. It is
// supplied as data; there is no declarative DSL.
type WorkflowDefinition struct {
	DefinitionID string
	Name         string
	Description  string
	Type         WorkflowType
	Version      string

	Steps             []StepDefinition
	CompensationSteps map[string]*CompensationAction

	Timeout            time.Duration
	MaxRetries         int
	DefaultRetryPolicy *RetryPolicy

	Active    bool
	CreatedAt time.Time
	CreatedBy string
}

type StepDefinition struct {
	StepID         string
	StepName       string
	StepType       string
	ServiceName    string
	Operation      string
	ExecutionOrder int
	DefaultInputs  map[string]any
	Timeout        time.Duration
	RetryPolicy    *RetryPolicy
	Compensation   *CompensationAction
	Dependencies   []string
	Conditions     map[string]string
	Optional       bool
}

// Validate checks the template is well-formed: non-empty identity, at least
// one step, execution order sequential from 1, dependencies resolvable.
func (d *WorkflowDefinition) Validate() error {
	if d == nil {
		return NewInvalidStateError("definition.validate", "definition is nil")
	}
	if d.DefinitionID == "" {
		return NewInvalidStateError("definition.validate", "definition id is empty")
	}
	if d.Name == "" {
		return NewInvalidStateError("definition.validate", "definition name is empty")
	}
	if d.Type == "" {
		return NewInvalidStateError("definition.validate", "definition type is empty")
	}
	if len(d.Steps) == 0 {
		return NewInvalidStateError("definition.validate", "definition %s has no steps", d.DefinitionID)
	}

	orders := make([]int, 0, len(d.Steps))
	ids := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		orders = append(orders, s.ExecutionOrder)
		ids[s.StepID] = true
	}
	sort.Ints(orders)
	for i, o := range orders {
		if o != i+1 {
			return NewInvalidStateError("definition.validate", "definition %s execution order must be sequential from 1", d.DefinitionID)
		}
	}

	for _, s := range d.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return NewInvalidStateError("definition.validate", "step %s depends on unknown step %s", s.StepID, dep)
			}
		}
	}

	return nil
}

func (d *WorkflowDefinition) StepsInOrder() []StepDefinition {
	out := append([]StepDefinition(nil), d.Steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out
}

func (d *WorkflowDefinition) StepsInReverseOrder() []StepDefinition {
	out := append([]StepDefinition(nil), d.Steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionOrder > out[j].ExecutionOrder })
	return out
}

func (d *WorkflowDefinition) Step(stepID string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// NextStep returns the step following currentStepID in execution order. An
// empty currentStepID yields the first step.
func (d *WorkflowDefinition) NextStep(currentStepID string) (StepDefinition, bool) {
	ordered := d.StepsInOrder()
	if currentStepID == "" {
		if len(ordered) == 0 {
			return StepDefinition{}, false
		}
		return ordered[0], true
	}

	for i, s := range ordered {
		if s.StepID == currentStepID {
			if i+1 < len(ordered) {
				return ordered[i+1], true
			}
			return StepDefinition{}, false
		}
	}
	return StepDefinition{}, false
}

func (d *WorkflowDefinition) FirstStep() (StepDefinition, bool) {
	return d.NextStep("")
}

func (d *WorkflowDefinition) IsLastStep(stepID string) bool {
	s, ok := d.Step(stepID)
	if !ok {
		return false
	}
	max := 0
	for _, sd := range d.Steps {
		if sd.ExecutionOrder > max {
			max = sd.ExecutionOrder
		}
	}
	return s.ExecutionOrder == max
}

func (d *WorkflowDefinition) Dependencies(stepID string) []string {
	s, ok := d.Step(stepID)
	if !ok {
		return nil
	}
	return s.Dependencies
}

// DependenciesSatisfied reports whether every dependency of the step appears
// in the executed log.
func (d *WorkflowDefinition) DependenciesSatisfied(stepID string, executed []string) bool {
	for _, dep := range d.Dependencies(stepID) {
		if !contains(executed, dep) {
			return false
		}
	}
	return true
}

// CompensationFor resolves a step's compensation action, preferring the
// definition-level table over the step definition.
func (d *WorkflowDefinition) CompensationFor(stepID string) *CompensationAction {
	if a, ok := d.CompensationSteps[stepID]; ok {
		return a
	}
	if s, ok := d.Step(stepID); ok {
		return s.Compensation
	}
	return nil
}

func (d *WorkflowDefinition) TotalSteps() int {
	return len(d.Steps)
}

func (d *WorkflowDefinition) String() string {
	return fmt.Sprintf("%s (%s, %d steps)", d.DefinitionID, d.Type, len(d.Steps))
}
