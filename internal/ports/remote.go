package ports

import (
	"context"
	"errors"
	"fmt"
)

// RemoteCall invokes an operation on a downstream service. Transport-level
// timeout and retry live behind the port; the engine only interprets the
// error class.
type RemoteCall interface {
	Call(ctx context.Context, serviceName, operation string, request map[string]any) (map[string]any, error)
}

var (
	ErrRemoteTimeout     = errors.New("remote call timed out")
	ErrRemoteUnavailable = errors.New("remote service unavailable")
	ErrRemoteFailed      = errors.New("remote call failed")
	ErrRemoteValidation  = errors.New("remote call rejected")
)

type RemoteError struct {
	ServiceName string
	Operation   string
	Err         error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s.%s: %v", e.ServiceName, e.Operation, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func NewRemoteError(serviceName, operation string, err error) *RemoteError {
	return &RemoteError{ServiceName: serviceName, Operation: operation, Err: err}
}

// RemoteErrorRecoverable classifies transport errors: timeouts, unavailable
// targets and generic failures retry; validation rejections do not.
func RemoteErrorRecoverable(err error) bool {
	return errors.Is(err, ErrRemoteTimeout) ||
		errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrRemoteFailed)
}
