package types

import (
	"context"
	"time"
)

// Freshness classifies a cache lookup result. A stale entry is still
// served to readers while a refetch runs in the background.
type Freshness int

const (
	FreshnessMiss Freshness = iota
	FreshnessStale
	FreshnessFresh
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	default:
		return "miss"
	}
}

// CacheManager is the process-wide query cache. Keys are composite
// ("kind/params", see cache.Key); at most one entry exists per key.
type CacheManager interface {
	LifecycleManager
	Lookup(key string) (interface{}, Freshness)
	Store(key string, value interface{}, opts EntryOptions) error
	Patch(key string, apply func(current interface{}) interface{}) bool
	Invalidate(keys ...string) error
	InvalidateKind(kind string) error
	Delete(key string) error
	Keys(kind string) []string
}

type CacheManagerCreator func(config *CacheConfig) (CacheManager, error)

// EntryOptions control per-entry freshness. FreshFor is how long a
// snapshot is served without refetching; RetainFor is how long the
// snapshot is kept at all before eviction.
type EntryOptions struct {
	FreshFor  time.Duration
	RetainFor time.Duration
}

type CacheEntry struct {
	Key       string        `json:"key"`
	Value     interface{}   `json:"value"`
	FetchedAt time.Time     `json:"fetched_at"`
	StaleAt   time.Time     `json:"stale_at"`
	EvictAt   time.Time     `json:"evict_at"`
	FreshFor  time.Duration `json:"fresh_for"`
	RetainFor time.Duration `json:"retain_for"`
}

// Loader fetches the authoritative value for a key from the backend.
type Loader func(ctx context.Context) (interface{}, error)
