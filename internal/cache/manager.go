package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats counts which tier served reads since startup.
type Stats struct {
	Tier1Hits int64 `json:"tier1_hits"`
	Tier2Hits int64 `json:"tier2_hits"`
	Misses    int64 `json:"misses"`
}

// Manager front-ends the two tiers. Reads check tier 1 first, then tier 2
// with the advisory expiry enforced; a fresh tier-2 hit is promoted into
// tier 1 under its remaining lifetime. Writes go through to tier 2 first:
// a durable write failure is the caller's error, while tier 1 is only a
// best-effort copy on top.
type Manager struct {
	tier1 *MemoryCache
	tier2 Store
	ttl   time.Duration
	log   zerolog.Logger

	tier1Hits atomic.Int64
	tier2Hits atomic.Int64
	misses    atomic.Int64
}

// NewManager creates a cache manager over the given durable store.
func NewManager(tier2 Store, ttl time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		tier1: NewMemoryCache(),
		tier2: tier2,
		ttl:   ttl,
		log:   log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached value for key, or found=false on a miss. An expired
// tier-2 row counts as a miss; it stays in place for the reaper.
func (m *Manager) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if v, ok := m.tier1.Get(key); ok {
		m.tier1Hits.Add(1)
		return v, true, nil
	}

	entry, err := m.tier2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !entry.Fresh(time.Now()) {
		m.misses.Add(1)
		return nil, false, nil
	}

	// Promote under the durable row's expiry, never a fresh TTL.
	m.tier1.Set(key, entry.Value, entry.ExpiresAt)
	m.tier2Hits.Add(1)
	return entry.Value, true, nil
}

// Put writes through both tiers. The durable write must succeed; if it does
// not, tier 1 is left untouched so the tiers cannot disagree.
func (m *Manager) Put(ctx context.Context, key string, value []byte) error {
	if err := m.tier2.Put(ctx, key, value, m.ttl); err != nil {
		return fmt.Errorf("tier-2 cache write failed for %s: %w", key, err)
	}
	m.tier1.Set(key, value, time.Now().Add(m.ttl))
	return nil
}

// Delete removes a key from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.tier1.Delete(key)
	return m.tier2.Delete(ctx, key)
}

// ReapExpired removes expired entries from both tiers.
func (m *Manager) ReapExpired(ctx context.Context) (int64, error) {
	purged := m.tier1.PurgeExpired()
	if purged > 0 {
		m.log.Debug().Int("purged", purged).Msg("Purged expired tier-1 entries")
	}
	return m.tier2.DeleteExpired(ctx)
}

// Stats returns the hit counters accumulated since startup.
func (m *Manager) Stats() Stats {
	return Stats{
		Tier1Hits: m.tier1Hits.Load(),
		Tier2Hits: m.tier2Hits.Load(),
		Misses:    m.misses.Load(),
	}
}
