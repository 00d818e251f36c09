package mutation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

// Target is one cache entry an optimistic mutation touches.
// Speculate produces the optimistic value from the current one; it runs
// via Patch, so the entry keeps its freshness deadlines. Create is
// stored when the entry doesn't exist yet; leave it nil to skip absent
// entries.
type Target struct {
	Key       string
	Speculate func(current interface{}) interface{}
	Create    interface{}
}

// Mutation is one optimistic write: patch the cache immediately, fire
// the authoritative call, then either reconcile with the server's
// answer or roll every touched entry back to its pre-mutation snapshot.
type Mutation struct {
	Name      string
	Targets   []Target
	Call      func(ctx context.Context) (interface{}, error)
	Reconcile func(result interface{})
}

type snapshot struct {
	key     string
	value   interface{}
	existed bool
}

// Mutator runs optimistic mutations against the cache. The UI-visible
// guarantee: on failure the cache is byte-for-byte what it was before
// the speculation, and the error surfaces to the caller.
type Mutator struct {
	logger  types.Logger
	cache   types.CacheManager
	metrics types.MetricsManager
}

func NewMutator(logger types.Logger, cacheManager types.CacheManager, metrics types.MetricsManager) *Mutator {
	return &Mutator{
		logger:  logger,
		cache:   cacheManager,
		metrics: metrics,
	}
}

func (m *Mutator) Do(ctx context.Context, mut *Mutation) (interface{}, error) {
	if mut == nil || mut.Call == nil {
		return nil, types.ErrMutationNoCall
	}

	start := time.Now()

	snapshots := m.speculate(mut)

	result, err := mut.Call(ctx)
	if err != nil {
		m.rollback(snapshots)
		m.record(mut.Name, "rolled_back", start)

		m.logger.Debug("Mutation rolled back",
			zap.String("mutation", mut.Name),
			zap.Error(err))
		return nil, err
	}

	if mut.Reconcile != nil {
		mut.Reconcile(result)
	}

	m.record(mut.Name, "success", start)
	return result, nil
}

// speculate captures pre-images and applies the optimistic values.
// Capture happens before the first write so a failure mid-way can still
// restore everything.
func (m *Mutator) speculate(mut *Mutation) []snapshot {
	snapshots := make([]snapshot, 0, len(mut.Targets))

	for _, target := range mut.Targets {
		if target.Key == "" {
			continue
		}

		value, freshness := m.cache.Lookup(target.Key)
		snapshots = append(snapshots, snapshot{
			key:     target.Key,
			value:   value,
			existed: freshness != types.FreshnessMiss,
		})
	}

	for _, target := range mut.Targets {
		if target.Key == "" {
			continue
		}

		if target.Speculate != nil {
			if m.cache.Patch(target.Key, target.Speculate) {
				continue
			}
		}

		if target.Create != nil {
			if err := m.cache.Store(target.Key, target.Create, types.EntryOptions{}); err != nil {
				m.logger.Warn("Failed to store speculative entry",
					zap.String("key", target.Key),
					zap.Error(err))
			}
		}
	}

	return snapshots
}

// rollback restores snapshots in reverse order. Entries that existed
// get their old value back via Patch, which leaves the original
// freshness deadlines untouched; entries created by the speculation are
// deleted.
func (m *Mutator) rollback(snapshots []snapshot) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]

		if !snap.existed {
			if err := m.cache.Delete(snap.key); err != nil {
				m.logger.Warn("Failed to delete speculative entry",
					zap.String("key", snap.key),
					zap.Error(err))
			}
			continue
		}

		restored := m.cache.Patch(snap.key, func(interface{}) interface{} {
			return snap.value
		})

		if !restored {
			if err := m.cache.Store(snap.key, snap.value, types.EntryOptions{}); err != nil {
				m.logger.Warn("Failed to restore snapshot",
					zap.String("key", snap.key),
					zap.Error(err))
			}
		}
	}
}

func (m *Mutator) record(name, result string, start time.Time) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("mutations_total", map[string]string{
		"mutation": name,
		"result":   result,
	})
	counter.Inc()

	histogram := m.metrics.Histogram("mutation_duration_seconds",
		[]float64{0.01, 0.1, 0.5, 1.0, 5.0},
		map[string]string{"mutation": name},
	)
	histogram.Observe(time.Since(start).Seconds())
}
