package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// StepCompletionMessage is the payload downstream services report back with
// once they finish (or fail) a delegated step. The transport that delivers it
// is a collaborator concern; consumers deduplicate on the message id.
type StepCompletionMessage struct {
	MessageID   string           `json:"message_id"`
	WorkflowID  string           `json:"workflow_id"`
	StepID      string           `json:"step_id"`
	ServiceName string           `json:"service_name"`
	Success     bool             `json:"success"`
	Output      map[string]any   `json:"output,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	ErrorMsg    string           `json:"error_message,omitempty"`
	ElapsedMs   int64            `json:"elapsed_ms,omitempty"`
}

// StepEventConsumer feeds upstream completion reports into the execution
// service. Duplicate deliveries surface as invalid-state errors on the
// aggregate and are swallowed here.
type StepEventConsumer struct {
	svc    *Service
	clock  ports.Clock
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

func NewStepEventConsumer(svc *Service, clock ports.Clock, logger *slog.Logger) *StepEventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}

	return &StepEventConsumer{
		svc:    svc,
		clock:  clock,
		logger: logger.With("component", "step-event-consumer"),
		seen:   make(map[string]bool),
	}
}

func (c *StepEventConsumer) Handle(ctx context.Context, msg StepCompletionMessage) error {
	if msg.MessageID != "" {
		c.mu.Lock()
		duplicate := c.seen[msg.MessageID]
		c.seen[msg.MessageID] = true
		c.mu.Unlock()

		if duplicate {
			c.logger.Debug("duplicate step message ignored", "message_id", msg.MessageID, "workflow_id", msg.WorkflowID)
			return nil
		}
	}

	if msg.Success {
		result := domain.SuccessResult(msg.StepID, msg.Output, time.Duration(msg.ElapsedMs)*time.Millisecond, c.clock.Now())
		err := c.svc.ExecuteStep(ctx, msg.WorkflowID, msg.StepID, result)
		if domain.IsInvalidState(err) {
			c.logger.Warn("stale step completion ignored",
				"workflow_id", msg.WorkflowID,
				"step_id", msg.StepID,
				"error", err.Error(),
			)
			return nil
		}
		return err
	}

	kind := msg.ErrorKind
	if kind == "" {
		kind = domain.ErrorKindInternal
	}
	stepErr := domain.NewWorkflowError(kind, msg.StepID, msg.ServiceName, msg.ErrorCode, msg.ErrorMsg, c.clock.Now())

	err := c.svc.HandleStepFailure(ctx, msg.WorkflowID, msg.StepID, stepErr)
	if domain.IsInvalidState(err) {
		c.logger.Warn("stale step failure ignored",
			"workflow_id", msg.WorkflowID,
			"step_id", msg.StepID,
			"error", err.Error(),
		)
		return nil
	}
	return err
}
