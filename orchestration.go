// Package orchestration provides a saga-based workflow orchestration engine
// for long-running, multi-step business processes spanning remote services.
//
// A workflow is an ordered sequence of steps, each invoking a downstream
// service through the remote-call port. The engine guarantees progress under
// partial failure: forward recovery retries failed steps with exponential
// backoff, and backward recovery undoes completed steps in reverse order via
// their compensation actions. A waveless scheduler admits pending workflows
// continuously in priority-ordered batches sized to system load.
//
// Basic usage:
//
//	manager, _ := orchestration.New(orchestration.DefaultConfig(), logger)
//	manager.RegisterDefinition(&orchestration.WorkflowDefinition{ ... })
//	manager.Start(context.Background())
//
//	w, _ := manager.StartWorkflow(ctx, orchestration.StartWorkflowCommand{
//	    DefinitionID: "order-fulfillment-v1",
//	    Priority:     orchestration.PriorityHigh,
//	    Input:        map[string]any{"orderId": "ord-123"},
//	})
package orchestration

import (
	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/engine"
)

// Workflow is the root aggregate: a state machine over an ordered step table
// with executed- and compensated-step logs.
type Workflow = domain.Workflow

// WorkflowDefinition is the template a workflow instance is built from.
type WorkflowDefinition = domain.WorkflowDefinition

// StepDefinition describes one step of a template, including its retry
// policy, compensation action and dependencies.
type StepDefinition = domain.StepDefinition

// StepExecution is one unit of remote work with its own retry and
// compensation lifecycle.
type StepExecution = domain.StepExecution

// StepResult carries the outcome of a step's remote operation.
type StepResult = domain.StepResult

// WorkflowError is a tagged domain failure; its kind decides between forward
// and backward recovery.
type WorkflowError = domain.WorkflowError

// RetryPolicy configures exponential backoff for step retries.
type RetryPolicy = domain.RetryPolicy

// CompensationAction describes how to undo a completed step.
type CompensationAction = domain.CompensationAction

// LoadMetrics is one point-in-time load sample for a target service.
type LoadMetrics = domain.LoadMetrics

// Config carries engine, scheduler and load thresholds.
type Config = domain.Config

// Event is a domain event published after the persisted write commits.
type Event = domain.Event

// StartWorkflowCommand creates a workflow instance from a registered
// definition.
type StartWorkflowCommand = engine.StartWorkflowCommand

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = domain.MetricsSnapshot

type WorkflowStatus = domain.WorkflowStatus

const (
	StatusPending      = domain.WorkflowStatusPending
	StatusExecuting    = domain.WorkflowStatusExecuting
	StatusPaused       = domain.WorkflowStatusPaused
	StatusCompleted    = domain.WorkflowStatusCompleted
	StatusFailed       = domain.WorkflowStatusFailed
	StatusCompensating = domain.WorkflowStatusCompensating
	StatusCompensated  = domain.WorkflowStatusCompensated
	StatusCancelled    = domain.WorkflowStatusCancelled
)

type WorkflowPriority = domain.WorkflowPriority

const (
	PriorityHigh   = domain.PriorityHigh
	PriorityNormal = domain.PriorityNormal
	PriorityLow    = domain.PriorityLow
)

type WorkflowType = domain.WorkflowType

const (
	TypeOrderFulfillment = domain.TypeOrderFulfillment
	TypePicking          = domain.TypePicking
	TypePacking          = domain.TypePacking
	TypeShipping         = domain.TypeShipping
	TypeReceiving        = domain.TypeReceiving
)

// DefaultConfig returns the engine defaults; layer YAML over it with
// LoadConfigFile.
func DefaultConfig() *Config { return domain.DefaultConfig() }

// LoadConfigFile reads a YAML config file over the defaults.
func LoadConfigFile(path string) (*Config, error) { return domain.LoadConfigFile(path) }

// DefaultRetryPolicy is 3 retries from 1s doubling to a 10s cap.
func DefaultRetryPolicy() RetryPolicy { return domain.DefaultRetryPolicy() }

// AggressiveRetryPolicy is 5 retries from 500ms with a 5s cap, for
// high-priority work.
func AggressiveRetryPolicy() RetryPolicy { return domain.AggressiveRetryPolicy() }

// ConservativeRetryPolicy is 2 retries from 2s with a 20s cap.
func ConservativeRetryPolicy() RetryPolicy { return domain.ConservativeRetryPolicy() }
