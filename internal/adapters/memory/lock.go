package memory

import (
	"context"
	"sync"
	"time"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// Lock is an in-process TTL lock keyed by name. Expired entries are treated
// as released.
type Lock struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	clock  ports.Clock
}

func NewLock(clock ports.Clock) *Lock {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Lock{
		expiry: make(map[string]time.Time),
		clock:  clock,
	}
}

func (l *Lock) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if deadline, ok := l.expiry[key]; ok && now.Before(deadline) {
		return false, nil
	}

	l.expiry[key] = now.Add(ttl)
	return true, nil
}

func (l *Lock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expiry, key)
	return nil
}

func (l *Lock) Extend(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	deadline, ok := l.expiry[key]
	if !ok || now.After(deadline) {
		return false, nil
	}

	l.expiry[key] = now.Add(ttl)
	return true, nil
}

func (l *Lock) IsHeld(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline, ok := l.expiry[key]
	return ok && l.clock.Now().Before(deadline), nil
}

func (l *Lock) TTLRemaining(_ context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline, ok := l.expiry[key]
	if !ok {
		return 0, nil
	}

	remaining := deadline.Sub(l.clock.Now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
