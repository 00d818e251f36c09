package cache

import (
	"context"
	"time"

	"github.com/wanderlink/wander-sync/types"
)

var customCacheCreators = make(map[string]types.CacheManagerCreator)

func RegisterCacheManager(name string, creator types.CacheManagerCreator) {
	customCacheCreators[name] = creator
}

func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	var impl types.CacheManager
	var err error

	switch cacheConfig.Type {
	case "", "memory":
		impl, err = NewMemoryCache(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheManager(metrics, impl), nil
}

type instrumentedCacheManager struct {
	impl    types.CacheManager
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Lookup(key string) (interface{}, types.Freshness) {
	start := time.Now()
	value, freshness := icm.impl.Lookup(key)
	icm.recordMetric("lookup", freshness.String(), time.Since(start))
	return value, freshness
}

func (icm *instrumentedCacheManager) Store(key string, value interface{}, opts types.EntryOptions) error {
	start := time.Now()
	err := icm.impl.Store(key, value, opts)
	icm.recordMetric("store", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Patch(key string, apply func(current interface{}) interface{}) bool {
	start := time.Now()
	ok := icm.impl.Patch(key, apply)

	result := "applied"
	if !ok {
		result = "skipped"
	}

	icm.recordMetric("patch", result, time.Since(start))
	return ok
}

func (icm *instrumentedCacheManager) Invalidate(keys ...string) error {
	start := time.Now()
	err := icm.impl.Invalidate(keys...)
	icm.recordMetric("invalidate", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) InvalidateKind(kind string) error {
	start := time.Now()
	err := icm.impl.InvalidateKind(kind)
	icm.recordMetric("invalidate_kind", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Delete(key string) error {
	start := time.Now()
	err := icm.impl.Delete(key)
	icm.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Keys(kind string) []string {
	return icm.impl.Keys(kind)
}

func (icm *instrumentedCacheManager) Start() error {
	return icm.impl.Start()
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, duration time.Duration) {
	opCounter := icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
