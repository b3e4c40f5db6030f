package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionValidate(t *testing.T) {
	def := fulfillmentDefinition()
	require.NoError(t, def.Validate())

	tests := []struct {
		name   string
		mutate func(*WorkflowDefinition)
	}{
		{"missing id", func(d *WorkflowDefinition) { d.DefinitionID = "" }},
		{"missing name", func(d *WorkflowDefinition) { d.Name = "" }},
		{"missing type", func(d *WorkflowDefinition) { d.Type = "" }},
		{"no steps", func(d *WorkflowDefinition) { d.Steps = nil }},
		{"order gap", func(d *WorkflowDefinition) { d.Steps[2].ExecutionOrder = 5 }},
		{"order not from one", func(d *WorkflowDefinition) {
			for i := range d.Steps {
				d.Steps[i].ExecutionOrder += 1
			}
		}},
		{"unknown dependency", func(d *WorkflowDefinition) { d.Steps[1].Dependencies = []string{"ghost-step"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := fulfillmentDefinition()
			tt.mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDefinitionNextStep(t *testing.T) {
	def := fulfillmentDefinition()

	first, ok := def.FirstStep()
	require.True(t, ok)
	assert.Equal(t, "reserve-inventory", first.StepID)

	next, ok := def.NextStep("reserve-inventory")
	require.True(t, ok)
	assert.Equal(t, "assign-robot", next.StepID)

	_, ok = def.NextStep("pick-items")
	assert.False(t, ok)

	_, ok = def.NextStep("ghost-step")
	assert.False(t, ok)
}

func TestDefinitionDependencies(t *testing.T) {
	def := fulfillmentDefinition()
	def.Steps[2].Dependencies = []string{"reserve-inventory", "assign-robot"}

	assert.False(t, def.DependenciesSatisfied("pick-items", []string{"reserve-inventory"}))
	assert.True(t, def.DependenciesSatisfied("pick-items", []string{"reserve-inventory", "assign-robot"}))
	assert.True(t, def.DependenciesSatisfied("reserve-inventory", nil))
}

func TestDefinitionStepOrdering(t *testing.T) {
	def := fulfillmentDefinition()

	ordered := def.StepsInOrder()
	assert.Equal(t, "reserve-inventory", ordered[0].StepID)
	assert.Equal(t, "pick-items", ordered[2].StepID)

	reversed := def.StepsInReverseOrder()
	assert.Equal(t, "pick-items", reversed[0].StepID)
	assert.Equal(t, "reserve-inventory", reversed[2].StepID)

	assert.True(t, def.IsLastStep("pick-items"))
	assert.False(t, def.IsLastStep("assign-robot"))
	assert.Equal(t, 3, def.TotalSteps())
}

func TestDefinitionCompensationLookup(t *testing.T) {
	def := fulfillmentDefinition()

	action := def.CompensationFor("reserve-inventory")
	require.NotNil(t, action)
	assert.Equal(t, "release", action.Operation)

	// Definition-level table wins over the step definition.
	def.CompensationSteps = map[string]*CompensationAction{
		"reserve-inventory": DeleteCreated("reserve-inventory", "inventory-service", "res-9"),
	}
	action = def.CompensationFor("reserve-inventory")
	require.NotNil(t, action)
	assert.Equal(t, CompensationDeleteCreated, action.Strategy)

	assert.Nil(t, def.CompensationFor("ghost-step"))
}
