package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wanderlink/wander-sync/types"
)

// Reader is the read-through layer over the cache manager. A fresh
// entry is served without fetching; a stale entry is served while a
// background revalidation runs; a miss fetches synchronously.
// Concurrent fetches for one key are collapsed into a single call.
type Reader struct {
	cache    types.CacheManager
	logger   types.Logger
	group    singleflight.Group
	defaults types.EntryOptions

	watchMu sync.RWMutex
	watched map[string]watchedKey

	fetchTimeout time.Duration
}

type watchedKey struct {
	loader types.Loader
	opts   types.EntryOptions
}

func NewReader(cache types.CacheManager, logger types.Logger, config *types.CacheConfig) *Reader {
	defaults := types.EntryOptions{
		FreshFor:  config.DefaultFreshFor,
		RetainFor: config.DefaultRetainFor,
	}

	return &Reader{
		cache:        cache,
		logger:       logger,
		defaults:     defaults,
		watched:      make(map[string]watchedKey),
		fetchTimeout: 30 * time.Second,
	}
}

func (r *Reader) Read(ctx context.Context, key string, loader types.Loader) (interface{}, error) {
	return r.ReadOpts(ctx, key, r.defaults, loader)
}

func (r *Reader) ReadOpts(ctx context.Context, key string, opts types.EntryOptions, loader types.Loader) (interface{}, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	value, freshness := r.cache.Lookup(key)

	switch freshness {
	case types.FreshnessFresh:
		return value, nil

	case types.FreshnessStale:
		go r.revalidate(key, opts, loader)
		return value, nil

	default:
		fetched, err, _ := r.group.Do(key, func() (interface{}, error) {
			return r.fetchAndStore(ctx, key, opts, loader)
		})
		if err != nil {
			return nil, err
		}
		return fetched, nil
	}
}

// Watch registers the loader for a key so invalidations and the
// periodic sweep can refetch it without a reader present.
func (r *Reader) Watch(key string, opts types.EntryOptions, loader types.Loader) {
	if key == "" || loader == nil {
		return
	}

	r.watchMu.Lock()
	r.watched[key] = watchedKey{loader: loader, opts: opts}
	r.watchMu.Unlock()
}

func (r *Reader) Unwatch(key string) {
	r.watchMu.Lock()
	delete(r.watched, key)
	r.watchMu.Unlock()
}

// RefreshStale revalidates every watched key whose entry is stale or
// missing. The reconciliation scheduler calls this on an interval and
// after a realtime reconnect.
func (r *Reader) RefreshStale(ctx context.Context) int {
	r.watchMu.RLock()
	pending := make(map[string]watchedKey, len(r.watched))
	for key, w := range r.watched {
		pending[key] = w
	}
	r.watchMu.RUnlock()

	refreshed := 0
	for key, w := range pending {
		if _, freshness := r.cache.Lookup(key); freshness == types.FreshnessFresh {
			continue
		}

		if _, err := r.fetchVia(ctx, key, w.opts, w.loader); err != nil {
			r.logger.Debug("Stale refresh failed",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		refreshed++
	}

	return refreshed
}

// Refresh forces a fetch regardless of freshness.
func (r *Reader) Refresh(ctx context.Context, key string, loader types.Loader) error {
	_, err := r.fetchVia(ctx, key, r.defaults, loader)
	return err
}

func (r *Reader) revalidate(key string, opts types.EntryOptions, loader types.Loader) {
	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	if _, err := r.fetchVia(ctx, key, opts, loader); err != nil {
		// The stale snapshot stays in place; the next read or the
		// reconciliation sweep tries again.
		r.logger.Debug("Background revalidation failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (r *Reader) fetchVia(ctx context.Context, key string, opts types.EntryOptions, loader types.Loader) (interface{}, error) {
	value, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.fetchAndStore(ctx, key, opts, loader)
	})
	return value, err
}

func (r *Reader) fetchAndStore(ctx context.Context, key string, opts types.EntryOptions, loader types.Loader) (interface{}, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if storeErr := r.cache.Store(key, value, opts); storeErr != nil {
		r.logger.Error("Failed to store fetched value",
			zap.String("key", key),
			zap.Error(storeErr))
	}

	return value, nil
}
