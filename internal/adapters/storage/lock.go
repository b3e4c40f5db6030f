package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const lockPrefix = "lock:"

// Lock implements the TTL lock port on badger's native entry expiry. An
// acquired lock either gets released, expires, or is prolonged via Extend.
type Lock struct {
	db     *badger.DB
	logger *slog.Logger
}

func NewLock(store *Store, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{db: store.db, logger: logger.With("component", "lock")}
}

func lockKey(key string) []byte {
	return []byte(lockPrefix + key)
}

func (l *Lock) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	acquired := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(lockKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entry := badger.NewEntry(lockKey(key), []byte("held")).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !acquired {
		l.logger.Debug("lock contended", "key", key)
	}
	return acquired, nil
}

func (l *Lock) Release(_ context.Context, key string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(lockKey(key))
	})
}

func (l *Lock) Extend(_ context.Context, key string, ttl time.Duration) (bool, error) {
	extended := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(lockKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		entry := badger.NewEntry(lockKey(key), []byte("held")).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		extended = true
		return nil
	})
	return extended, err
}

func (l *Lock) IsHeld(_ context.Context, key string) (bool, error) {
	held := false
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(lockKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		held = true
		return nil
	})
	return held, err
}

func (l *Lock) TTLRemaining(_ context.Context, key string) (time.Duration, error) {
	var remaining time.Duration
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lockKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		expiresAt := item.ExpiresAt()
		if expiresAt == 0 {
			return nil
		}

		until := time.Until(time.Unix(int64(expiresAt), 0))
		if until > 0 {
			remaining = until
		}
		return nil
	})
	return remaining, err
}
