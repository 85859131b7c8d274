package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/store"
)

func TestTrackerTryBeginClaimsTuple(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	begin, err := tracker.TryBegin(ctx, "task", "abc", "create", []byte("ctx"))
	require.NoError(t, err)
	assert.True(t, begin.Started)
	assert.Nil(t, begin.Existing)
}

func TestTrackerTryBeginBlocksReentry(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	first, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	require.True(t, first.Started)

	second, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	assert.False(t, second.Started)
	require.NotNil(t, second.Existing)
	assert.Equal(t, StateProcessing, second.Existing.State)
}

func TestTrackerCompletedEntryStillBlocks(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	begin, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	require.True(t, begin.Started)

	require.NoError(t, tracker.Complete(ctx, "task", "abc", "create", []byte("done")))

	// Any unexpired entry blocks, whatever its state: a completed create
	// must not run again on event redelivery.
	again, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	assert.False(t, again.Started)
	require.NotNil(t, again.Existing)
	assert.Equal(t, StateCompleted, again.Existing.State)
	assert.Equal(t, []byte("done"), again.Existing.Context)
}

func TestTrackerFailedEntryStillBlocks(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	begin, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	require.True(t, begin.Started)

	require.NoError(t, tracker.Fail(ctx, "task", "abc", "create", assert.AnError))

	again, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	assert.False(t, again.Started)
	require.NotNil(t, again.Existing)
	assert.Equal(t, StateFailed, again.Existing.State)
}

func TestTrackerExpiredEntryAllowsNewBegin(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	tracker.clock = func() time.Time { return now }

	begin, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	require.True(t, begin.Started)

	now = now.Add(2 * time.Hour)

	again, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	assert.True(t, again.Started, "an expired claim is reclaimable")
}

func TestTrackerTuplesAreIndependent(t *testing.T) {
	tracker := NewTracker(store.NewMemoryStore(), time.Hour, testLogger())
	ctx := context.Background()

	first, err := tracker.TryBegin(ctx, "task", "abc", "create", nil)
	require.NoError(t, err)
	assert.True(t, first.Started)

	// Same entity, different operation.
	second, err := tracker.TryBegin(ctx, "task", "abc", "update", nil)
	require.NoError(t, err)
	assert.True(t, second.Started)

	// Same operation, different entity.
	third, err := tracker.TryBegin(ctx, "task", "def", "create", nil)
	require.NoError(t, err)
	assert.True(t, third.Started)
}
