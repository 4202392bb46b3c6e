package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T, ttl time.Duration) (*Manager, *SQLiteStore) {
	store := setupStore(t)
	return NewManager(store, ttl, zerolog.Nop()), store
}

func TestPutThenGetServesTier1(t *testing.T) {
	m, _ := setupManager(t, time.Hour)
	ctx := context.Background()

	key := Key("NVDA", "2025-12-28", "narrative")
	require.NoError(t, m.Put(ctx, key, []byte("up day")))

	value, found, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("up day"), value)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Tier1Hits)
	assert.Equal(t, int64(0), stats.Tier2Hits)
}

func TestTier2HitPromotesToTier1(t *testing.T) {
	m, store := setupManager(t, time.Hour)
	ctx := context.Background()

	// Row written by a previous process: present in tier 2 only.
	key := Key("DBS19", "2025-12-28", "report")
	require.NoError(t, store.Put(ctx, key, []byte("bundle"), time.Hour))

	value, found, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("bundle"), value)
	assert.Equal(t, int64(1), m.Stats().Tier2Hits)

	// Promoted: the second read never touches tier 2.
	_, found, err = m.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), m.Stats().Tier1Hits)
	assert.Equal(t, int64(1), m.Stats().Tier2Hits)
}

func TestExpiredTier2EntryIsAMiss(t *testing.T) {
	m, store := setupManager(t, time.Hour)
	ctx := context.Background()

	key := Key("0700.HK", "2025-12-27", "report")
	require.NoError(t, store.Put(ctx, key, []byte("yesterday"), -time.Minute))

	_, found, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), m.Stats().Misses)

	// The expired row is left for the reaper, not deleted on read.
	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestMissCounted(t *testing.T) {
	m, _ := setupManager(t, time.Hour)

	_, found, err := m.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), m.Stats().Misses)
}

// failingStore rejects all writes, standing in for a durable tier outage.
type failingStore struct{ SQLiteStore }

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("disk full")
}

func TestTier2WriteFailureLeavesTier1Untouched(t *testing.T) {
	m := NewManager(&failingStore{}, time.Hour, zerolog.Nop())

	err := m.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)

	_, ok := m.tier1.Get("k")
	assert.False(t, ok, "tier 1 must not hold a value tier 2 rejected")
}

func TestReapExpiredClearsBothTiers(t *testing.T) {
	m, store := setupManager(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stale", []byte("old"), -time.Minute))
	m.tier1.Set("stale", []byte("old"), time.Now().Add(-time.Minute))
	require.NoError(t, m.Put(ctx, "fresh", []byte("new")))

	deleted, err := m.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, m.tier1.Len())

	_, found, err := m.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, found)
}
