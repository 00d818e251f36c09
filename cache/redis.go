package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisCache is the shared-backend variant used when several rendering
// processes serve the same user pool. Values round-trip through JSON,
// so readers get generic maps/slices back rather than typed structs.
type RedisCache struct {
	ctx      context.Context
	logger   types.Logger
	config   *RedisConfig
	client   *redis.Client
	defaults types.EntryOptions
	started  int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "wander-sync",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	defaults := types.EntryOptions{
		FreshFor:  config.DefaultFreshFor,
		RetainFor: config.DefaultRetainFor,
	}
	if defaults.FreshFor <= 0 {
		defaults.FreshFor = DefaultFreshFor
	}
	if defaults.RetainFor <= 0 {
		defaults.RetainFor = DefaultRetainFor
	}

	cache := &RedisCache{
		ctx:      ctx,
		logger:   logger,
		config:   redisConfig,
		defaults: defaults,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			MinIdleConns: redisConfig.MinIdleConnections,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	if err := cache.client.Ping(ctx).Err(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func (r *RedisCache) Lookup(key string) (interface{}, types.Freshness) {
	if key == "" {
		return nil, types.FreshnessMiss
	}

	entry, ok := r.load(key)
	if !ok {
		return nil, types.FreshnessMiss
	}

	now := time.Now()
	if now.After(entry.EvictAt) {
		_ = r.Delete(key)
		return nil, types.FreshnessMiss
	}

	if now.After(entry.StaleAt) {
		return entry.Value, types.FreshnessStale
	}
	return entry.Value, types.FreshnessFresh
}

func (r *RedisCache) Store(key string, value interface{}, opts types.EntryOptions) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	opts = r.normalize(opts)

	now := time.Now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		FetchedAt: now,
		StaleAt:   now.Add(opts.FreshFor),
		EvictAt:   now.Add(opts.RetainFor),
		FreshFor:  opts.FreshFor,
		RetainFor: opts.RetainFor,
	}

	return r.save(key, entry, opts.RetainFor)
}

// Patch is read-modify-write without a redis transaction; the single
// logical writer per tab makes lost updates a non-issue, and the
// periodic reconciliation pass corrects any cross-process race.
func (r *RedisCache) Patch(key string, apply func(current interface{}) interface{}) bool {
	if key == "" || apply == nil {
		return false
	}

	entry, ok := r.load(key)
	if !ok || time.Now().After(entry.EvictAt) {
		return false
	}

	entry.Value = apply(entry.Value)

	if err := r.save(key, entry, time.Until(entry.EvictAt)); err != nil {
		r.logger.Error("Failed to persist cache patch", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (r *RedisCache) Invalidate(keys ...string) error {
	now := time.Now()

	for _, key := range keys {
		entry, ok := r.load(key)
		if !ok {
			continue
		}

		entry.StaleAt = now
		if err := r.save(key, entry, time.Until(entry.EvictAt)); err != nil {
			return err
		}
	}

	return nil
}

func (r *RedisCache) InvalidateKind(kind string) error {
	if kind == "" {
		return types.ErrCacheKeyEmpty
	}
	return r.Invalidate(r.Keys(kind)...)
}

func (r *RedisCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	err := r.client.Del(r.ctx, r.fullKey(key)).Err()
	if err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (r *RedisCache) Keys(kind string) []string {
	pattern := r.config.KeyPrefix + ":" + kind + "*"
	prefixLen := len(r.config.KeyPrefix) + 1

	keys := make([]string, 0, 8)
	iter := r.client.Scan(r.ctx, 0, pattern, 100).Iterator()
	for iter.Next(r.ctx) {
		full := iter.Val()
		if len(full) > prefixLen {
			keys = append(keys, full[prefixLen:])
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("Redis scan failed", zap.String("kind", kind), zap.Error(err))
	}

	return keys
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrAlreadyRunning
	}

	r.logger.Info("Redis cache started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.String("prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrNotRunning
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache stopped")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) load(key string) (*types.CacheEntry, bool) {
	result, err := r.client.Get(r.ctx, r.fullKey(key)).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(r.ctx, r.fullKey(key))
		return nil, false
	}

	return &entry, true
}

func (r *RedisCache) save(key string, entry *types.CacheEntry, ttl time.Duration) error {
	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(r.ctx, r.fullKey(key), data, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisCache) normalize(opts types.EntryOptions) types.EntryOptions {
	if opts.FreshFor <= 0 {
		opts.FreshFor = r.defaults.FreshFor
	}
	if opts.RetainFor <= 0 {
		opts.RetainFor = r.defaults.RetainFor
	}
	if opts.RetainFor > MaxRetain {
		opts.RetainFor = MaxRetain
	}
	if opts.RetainFor < opts.FreshFor {
		opts.RetainFor = opts.FreshFor
	}
	return opts
}

func (r *RedisCache) fullKey(key string) string {
	return r.config.KeyPrefix + ":" + key
}
