package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paklog/wes-orchestration-engine/internal/testutil"
)

func TestLockMutualExclusion(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	lock := NewLock(clk)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, "workflow:wf-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.TryAcquire(ctx, "workflow:wf-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other keys are independent.
	ok, err = lock.TryAcquire(ctx, "workflow:wf-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpiresByTTL(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	lock := NewLock(clk)
	ctx := context.Background()

	ok, _ := lock.TryAcquire(ctx, "workflow:wf-1", 10*time.Second)
	require.True(t, ok)

	clk.Advance(11 * time.Second)

	held, err := lock.IsHeld(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = lock.TryAcquire(ctx, "workflow:wf-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is acquirable")
}

func TestLockReleaseAndReacquire(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	lock := NewLock(clk)
	ctx := context.Background()

	ok, _ := lock.TryAcquire(ctx, "workflow:wf-1", time.Minute)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "workflow:wf-1"))
	require.NoError(t, lock.Release(ctx, "workflow:wf-1"), "double release is harmless")

	ok, err := lock.TryAcquire(ctx, "workflow:wf-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExtend(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	lock := NewLock(clk)
	ctx := context.Background()

	ok, _ := lock.TryAcquire(ctx, "workflow:wf-1", 10*time.Second)
	require.True(t, ok)

	clk.Advance(8 * time.Second)
	extended, err := lock.Extend(ctx, "workflow:wf-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, extended)

	clk.Advance(20 * time.Second)
	held, _ := lock.IsHeld(ctx, "workflow:wf-1")
	assert.True(t, held)

	remaining, err := lock.TTLRemaining(ctx, "workflow:wf-1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, remaining)

	// Extending an expired lock fails.
	clk.Advance(15 * time.Second)
	extended, err = lock.Extend(ctx, "workflow:wf-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}
