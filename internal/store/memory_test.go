package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := Record{Value: []byte("payload"), State: "processing", Timestamp: time.Now()}
	require.NoError(t, s.Set(ctx, "k1", rec))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, rec.State, got.State)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, s.Delete(ctx, "k1"))
}

func TestMemoryStoreSetReplaces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", Record{Value: []byte("a")}))
	require.NoError(t, s.Set(ctx, "k", Record{Value: []byte("b")}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got.Value)
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "task:1", Record{Value: []byte("a")}))
	require.NoError(t, s.Set(ctx, "task:2", Record{Value: []byte("b")}))
	require.NoError(t, s.Set(ctx, "rule:1", Record{Value: []byte("c")}))

	out, err := s.List(ctx, "task:")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, "task:1")
	assert.Contains(t, out, "task:2")
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Set(ctx, "expired", Record{ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Set(ctx, "boundary", Record{ExpiresAt: now}))
	require.NoError(t, s.Set(ctx, "fresh", Record{ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Set(ctx, "eternal", Record{}))

	removed, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "eternal")
	assert.NoError(t, err, "records without an expiry never expire")
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", Record{}), ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, "k"), ErrClosed)
	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Sweep(ctx, time.Now())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecordExpired(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, Record{}.Expired(now))
	assert.False(t, Record{ExpiresAt: now.Add(time.Second)}.Expired(now))
	assert.True(t, Record{ExpiresAt: now}.Expired(now))
	assert.True(t, Record{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}
