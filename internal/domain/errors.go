package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ErrorKind string

const (
	ErrorKindValidation            ErrorKind = "validation"
	ErrorKindServiceUnavailable    ErrorKind = "service-unavailable"
	ErrorKindTimeout               ErrorKind = "timeout"
	ErrorKindBusinessRuleViolation ErrorKind = "business-rule-violation"
	ErrorKindDataIntegrity         ErrorKind = "data-integrity"
	ErrorKindNetwork               ErrorKind = "network"
	ErrorKindPermissionDenied      ErrorKind = "permission-denied"
	ErrorKindResourceNotFound      ErrorKind = "resource-not-found"
	ErrorKindInternal              ErrorKind = "internal"
	ErrorKindCompensationFailed    ErrorKind = "compensation-failed"
)

// RecoverableByDefault reports whether errors of this kind are eligible for
// forward recovery without an explicit override.
func (k ErrorKind) RecoverableByDefault() bool {
	return k == ErrorKindTimeout || k == ErrorKindServiceUnavailable || k == ErrorKindNetwork
}

type WorkflowError struct {
	ErrorID     string    `json:"error_id"`
	StepID      string    `json:"step_id,omitempty"`
	Kind        ErrorKind `json:"kind"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	ServiceName string    `json:"service_name,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Recoverable bool      `json:"recoverable"`
}

func NewWorkflowError(kind ErrorKind, stepID, serviceName, code, message string, at time.Time) WorkflowError {
	return WorkflowError{
		ErrorID:     uuid.NewString(),
		StepID:      stepID,
		Kind:        kind,
		Code:        code,
		Message:     message,
		ServiceName: serviceName,
		OccurredAt:  at,
		Recoverable: kind.RecoverableByDefault(),
	}
}

func (e WorkflowError) WithRecoverable(recoverable bool) WorkflowError {
	e.Recoverable = recoverable
	return e
}

func (e WorkflowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s [%s] step %s: %s", e.Kind, e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

func (e WorkflowError) RequiresCompensation() bool {
	return !e.Recoverable && e.Kind != ErrorKindValidation
}

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrVersionConflict = errors.New("version conflict")
	ErrNotFound        = errors.New("not found")
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrNoTarget        = errors.New("no target available")
)

type InvalidStateError struct {
	Op     string
	Detail string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func NewInvalidStateError(op, format string, args ...any) *InvalidStateError {
	return &InvalidStateError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

type VersionConflictError struct {
	WorkflowID string
	Expected   int64
	Actual     int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for workflow %s: expected %d, got %d", e.WorkflowID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewWorkflowNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Resource: "workflow", ID: id}
}

func NewStepNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Resource: "step", ID: id}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
