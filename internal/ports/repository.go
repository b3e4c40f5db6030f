package ports

import (
	"context"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// WorkflowRepository is the persistence port for the workflow aggregate.
// Save must perform an atomic optimistic version check and return the stored
// view with the incremented version.
type WorkflowRepository interface {
	Save(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error)
	FindByID(ctx context.Context, id string) (*domain.Workflow, error)
	FindByStatus(ctx context.Context, status domain.WorkflowStatus) ([]*domain.Workflow, error)
	FindByType(ctx context.Context, t domain.WorkflowType) ([]*domain.Workflow, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.Workflow, error)
	FindActive(ctx context.Context) ([]*domain.Workflow, error)
	FindPending(ctx context.Context, limit int) ([]*domain.Workflow, error)
	FindForRetry(ctx context.Context, limit int) ([]*domain.Workflow, error)
	FindForWavelessProcessing(ctx context.Context) ([]*domain.Workflow, error)
	FindByCreatedAtBetween(ctx context.Context, from, to time.Time) ([]*domain.Workflow, error)
	CountByStatus(ctx context.Context, status domain.WorkflowStatus) (int64, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	DeleteByID(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.WorkflowStatus) error
}
