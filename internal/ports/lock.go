package ports

import (
	"context"
	"time"
)

// Lock is a named TTL-bounded mutual-exclusion port keyed by workflow id.
// A held lock is released by the caller, expired by TTL, or prolonged via
// Extend.
type Lock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsHeld(ctx context.Context, key string) (bool, error)
	TTLRemaining(ctx context.Context, key string) (time.Duration, error)
}
