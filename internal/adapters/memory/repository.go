package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// WorkflowRepository keeps workflows as serialized snapshots, giving the same
// isolation and version semantics as the document store.
type WorkflowRepository struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	clock ports.Clock
}

func NewWorkflowRepository(clock ports.Clock) *WorkflowRepository {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &WorkflowRepository{
		docs:  make(map[string][]byte),
		clock: clock,
	}
}

func (r *WorkflowRepository) Save(_ context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := w.Snapshot()

	if existing, ok := r.docs[snap.ID]; ok {
		var stored domain.WorkflowSnapshot
		if err := json.Unmarshal(existing, &stored); err != nil {
			return nil, err
		}
		if stored.Version != snap.Version {
			return nil, &domain.VersionConflictError{WorkflowID: snap.ID, Expected: snap.Version, Actual: stored.Version}
		}
	} else if snap.Version != 0 {
		return nil, &domain.VersionConflictError{WorkflowID: snap.ID, Expected: 0, Actual: snap.Version}
	}

	snap.Version++
	snap.UpdatedAt = r.clock.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	r.docs[snap.ID] = data

	w.Version = snap.Version
	w.UpdatedAt = snap.UpdatedAt
	return domain.FromSnapshot(snap, r.clock), nil
}

func (r *WorkflowRepository) FindByID(_ context.Context, id string) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.docs[id]
	if !ok {
		return nil, nil
	}

	var snap domain.WorkflowSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return domain.FromSnapshot(snap, r.clock), nil
}

func (r *WorkflowRepository) FindByStatus(ctx context.Context, status domain.WorkflowStatus) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool { return s.Status == status }, 0)
}

func (r *WorkflowRepository) FindByType(ctx context.Context, t domain.WorkflowType) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool { return s.Type == t }, 0)
}

func (r *WorkflowRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool { return s.CorrelationID == correlationID }, 0)
}

func (r *WorkflowRepository) FindActive(ctx context.Context) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool { return s.Status.IsActive() }, 0)
}

func (r *WorkflowRepository) FindPending(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool { return s.Status == domain.WorkflowStatusPending }, limit)
}

func (r *WorkflowRepository) FindForRetry(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool {
		return s.Status == domain.WorkflowStatusFailed && s.RetryCount < s.MaxRetries
	}, limit)
}

func (r *WorkflowRepository) FindForWavelessProcessing(ctx context.Context) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool {
		if s.Status != domain.WorkflowStatusPending && s.Status != domain.WorkflowStatusExecuting {
			return false
		}
		return s.Priority == domain.PriorityHigh || s.Type.SupportsWaveless()
	}, 0)
}

func (r *WorkflowRepository) FindByCreatedAtBetween(ctx context.Context, from, to time.Time) ([]*domain.Workflow, error) {
	return r.filter(func(s domain.WorkflowSnapshot) bool {
		return !s.CreatedAt.Before(from) && !s.CreatedAt.After(to)
	}, 0)
}

func (r *WorkflowRepository) CountByStatus(_ context.Context, status domain.WorkflowStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, data := range r.docs {
		var snap domain.WorkflowSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return 0, err
		}
		if snap.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *WorkflowRepository) ExistsByID(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[id]
	return ok, nil
}

func (r *WorkflowRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return domain.NewWorkflowNotFoundError(id)
	}
	delete(r.docs, id)
	return nil
}

// UpdateStatus is the idempotent admin path: it bypasses the aggregate and
// bumps the version directly.
func (r *WorkflowRepository) UpdateStatus(_ context.Context, id string, status domain.WorkflowStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.docs[id]
	if !ok {
		return domain.NewWorkflowNotFoundError(id)
	}

	var snap domain.WorkflowSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Status == status {
		return nil
	}

	snap.Status = status
	snap.Version++
	snap.UpdatedAt = r.clock.Now()

	updated, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	r.docs[id] = updated
	return nil
}

func (r *WorkflowRepository) filter(pred func(domain.WorkflowSnapshot) bool, limit int) ([]*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var snaps []domain.WorkflowSnapshot
	for _, data := range r.docs {
		var snap domain.WorkflowSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
		if pred(snap) {
			snaps = append(snaps, snap)
		}
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}

	out := make([]*domain.Workflow, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, domain.FromSnapshot(snap, r.clock))
	}
	return out, nil
}
