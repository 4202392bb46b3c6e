// Package cache implements the two-tier artifact cache: a small in-process
// tier for hot keys and a durable tier (sqlite or S3-compatible object
// storage) that survives restarts. Expiry is advisory and enforced at read
// time; a daily reaper job removes expired rows.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tickerbrief/internal/domain"
)

// Entry is one durable cache row. ExpiresAt is advisory: readers decide
// freshness against it, nothing expires in place.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still usable at the given instant.
func (e *Entry) Fresh(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// Store is the durable tier-2 backend. Get returns entries regardless of
// expiry (the caller checks freshness) and nil, nil on a plain miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Key builds the canonical cache key for one artifact fragment. The tier2
// prefix namespaces the durable tier; the in-process tier reuses the same
// key so the two tiers always address the same row.
func Key(symbol, date string, kind domain.FragmentKind) string {
	return fmt.Sprintf("tier2/%s/%s/%s", symbol, date, kind)
}
