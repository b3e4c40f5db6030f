package storage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

const workflowPrefix = "workflow:"

// Store wraps the embedded badger database shared by the repository and lock
// adapters.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	logger.Info("badger store opened", "data_dir", dataDir)
	return &Store{db: db, logger: logger.With("component", "badger-store")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WorkflowRepository persists workflow snapshots as versioned JSON documents.
type WorkflowRepository struct {
	db     *badger.DB
	clock  ports.Clock
	logger *slog.Logger
}

func NewWorkflowRepository(store *Store, clock ports.Clock, logger *slog.Logger) *WorkflowRepository {
	if clock == nil {
		clock = domain.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkflowRepository{
		db:     store.db,
		clock:  clock,
		logger: logger.With("component", "workflow-repository"),
	}
}

func workflowKey(id string) []byte {
	return []byte(workflowPrefix + id)
}

func (r *WorkflowRepository) Save(_ context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	snap := w.Snapshot()

	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(workflowKey(snap.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if snap.Version != 0 {
				return &domain.VersionConflictError{WorkflowID: snap.ID, Expected: snap.Version, Actual: 0}
			}
		case err != nil:
			return err
		default:
			var stored domain.WorkflowSnapshot
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &stored) }); err != nil {
				return err
			}
			if stored.Version != snap.Version {
				return &domain.VersionConflictError{WorkflowID: snap.ID, Expected: snap.Version, Actual: stored.Version}
			}
		}

		snap.Version++
		snap.UpdatedAt = r.clock.Now()

		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return txn.Set(workflowKey(snap.ID), data)
	})
	if err != nil {
		return nil, err
	}

	w.Version = snap.Version
	w.UpdatedAt = snap.UpdatedAt
	return domain.FromSnapshot(snap, r.clock), nil
}

func (r *WorkflowRepository) FindByID(_ context.Context, id string) (*domain.Workflow, error) {
	var snap domain.WorkflowSnapshot
	found := false

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(workflowKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) })
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return domain.FromSnapshot(snap, r.clock), nil
}

func (r *WorkflowRepository) FindByStatus(ctx context.Context, status domain.WorkflowStatus) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool { return s.Status == status }, 0)
}

func (r *WorkflowRepository) FindByType(ctx context.Context, t domain.WorkflowType) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool { return s.Type == t }, 0)
}

func (r *WorkflowRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool { return s.CorrelationID == correlationID }, 0)
}

func (r *WorkflowRepository) FindActive(ctx context.Context) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool { return s.Status.IsActive() }, 0)
}

func (r *WorkflowRepository) FindPending(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool { return s.Status == domain.WorkflowStatusPending }, limit)
}

func (r *WorkflowRepository) FindForRetry(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool {
		return s.Status == domain.WorkflowStatusFailed && s.RetryCount < s.MaxRetries
	}, limit)
}

func (r *WorkflowRepository) FindForWavelessProcessing(ctx context.Context) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool {
		if s.Status != domain.WorkflowStatusPending && s.Status != domain.WorkflowStatusExecuting {
			return false
		}
		return s.Priority == domain.PriorityHigh || s.Type.SupportsWaveless()
	}, 0)
}

func (r *WorkflowRepository) FindByCreatedAtBetween(ctx context.Context, from, to time.Time) ([]*domain.Workflow, error) {
	return r.scan(func(s domain.WorkflowSnapshot) bool {
		return !s.CreatedAt.Before(from) && !s.CreatedAt.After(to)
	}, 0)
}

func (r *WorkflowRepository) CountByStatus(_ context.Context, status domain.WorkflowStatus) (int64, error) {
	var count int64
	err := r.iterate(func(s domain.WorkflowSnapshot) bool {
		if s.Status == status {
			count++
		}
		return true
	})
	return count, err
}

func (r *WorkflowRepository) ExistsByID(_ context.Context, id string) (bool, error) {
	exists := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(workflowKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (r *WorkflowRepository) DeleteByID(_ context.Context, id string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(workflowKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return domain.NewWorkflowNotFoundError(id)
		}
		return txn.Delete(workflowKey(id))
	})
}

func (r *WorkflowRepository) UpdateStatus(_ context.Context, id string, status domain.WorkflowStatus) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(workflowKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.NewWorkflowNotFoundError(id)
		}
		if err != nil {
			return err
		}

		var snap domain.WorkflowSnapshot
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); err != nil {
			return err
		}
		if snap.Status == status {
			return nil
		}

		snap.Status = status
		snap.Version++
		snap.UpdatedAt = r.clock.Now()

		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return txn.Set(workflowKey(id), data)
	})
}

func (r *WorkflowRepository) scan(pred func(domain.WorkflowSnapshot) bool, limit int) ([]*domain.Workflow, error) {
	var snaps []domain.WorkflowSnapshot
	err := r.iterate(func(s domain.WorkflowSnapshot) bool {
		if pred(s) {
			snaps = append(snaps, s)
		}
		return true
	})
	if err != nil {
		return nil, err
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

func (r *WorkflowRepository) iterate(fn func(domain.WorkflowSnapshot) bool) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(workflowPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap domain.WorkflowSnapshot
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &snap) })
			if err != nil {
				return err
			}
			if !fn(snap) {
				return nil
			}
		}
		return nil
	})
}
