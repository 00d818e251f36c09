package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxRetain        = 24 * time.Hour
	DefaultFreshFor  = 30 * time.Second
	DefaultRetainFor = 10 * time.Minute
)

type MemoryConfig struct {
	MaxEntries      int    `json:"max_entries"`
	CleanupInterval string `json:"cleanup_interval"`
}

// MemoryCache is the default process-wide query cache: one entry per
// key, snapshots replaced wholesale on Store or patched in place.
type MemoryCache struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *MemoryConfig
	logger          types.Logger
	defaults        types.EntryOptions
	data            map[string]*types.CacheEntry
	hits            uint64
	misses          uint64
	evictions       uint64
	mu              sync.RWMutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	memConfig := &MemoryConfig{
		MaxEntries:      10000,
		CleanupInterval: "1m",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
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

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:             cacheCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		defaults:        defaults,
		data:            make(map[string]*types.CacheEntry),
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

func (m *MemoryCache) Lookup(key string) (interface{}, types.Freshness) {
	now := time.Now()

	m.mu.RLock()
	entry, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, types.FreshnessMiss
	}

	if now.After(entry.EvictAt) {
		m.mu.RUnlock()

		m.mu.Lock()
		if entry, exists := m.data[key]; exists && now.After(entry.EvictAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, types.FreshnessMiss
	}

	value := entry.Value
	stale := now.After(entry.StaleAt)
	m.mu.RUnlock()

	atomic.AddUint64(&m.hits, 1)

	if stale {
		return value, types.FreshnessStale
	}
	return value, types.FreshnessFresh
}

func (m *MemoryCache) Store(key string, value interface{}, opts types.EntryOptions) error {
	if key == "" {
		m.logger.Error("Attempted to store cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	opts = m.normalize(opts)

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

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOneUnsafe()
		}
	}

	m.data[key] = entry
	return nil
}

// Patch applies a targeted in-place update to an existing snapshot.
// Freshness deadlines are left as they were: a patch merges pushed
// data, it does not count as a refetch.
func (m *MemoryCache) Patch(key string, apply func(current interface{}) interface{}) bool {
	if key == "" || apply == nil {
		return false
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists || now.After(entry.EvictAt) {
		return false
	}

	entry.Value = apply(entry.Value)
	return true
}

// Invalidate marks entries stale without dropping the snapshot: the
// next read serves the old value and triggers a refetch.
func (m *MemoryCache) Invalidate(keys ...string) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if entry, exists := m.data[key]; exists {
			entry.StaleAt = now
		}
	}

	return nil
}

func (m *MemoryCache) InvalidateKind(kind string) error {
	if kind == "" {
		return types.ErrCacheKeyEmpty
	}

	now := time.Now()
	invalidated := 0

	m.mu.Lock()
	for key, entry := range m.data {
		if KindOf(key) == kind {
			entry.StaleAt = now
			invalidated++
		}
	}
	m.mu.Unlock()

	if invalidated > 0 {
		m.logger.Debug("Invalidated cache kind",
			zap.String("kind", kind),
			zap.Int("entries", invalidated))
	}

	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryCache) Keys(kind string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, 8)
	for key := range m.data {
		if kind == "" || KindOf(key) == kind {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.config.CleanupInterval != "" {
		go m.startCleanupRoutine()
	}

	m.logger.Info("Memory cache started")
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory cache is not running")
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case m.stopCleanup <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-m.cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Cleanup routine stop timeout")
		}

		return nil
	})

	g.Go(func() error {
		m.mu.Lock()
		entriesCount := len(m.data)
		m.data = make(map[string]*types.CacheEntry)
		m.mu.Unlock()

		m.logger.Info("Memory cache cleared", zap.Int("cleared_entries", entriesCount))
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			m.logger.Warn("Memory cache stop timeout, some components may not have stopped gracefully")
		default:
			m.logger.Error("Error during memory cache shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory cache stopped gracefully")
	}

	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryCache) normalize(opts types.EntryOptions) types.EntryOptions {
	if opts.FreshFor <= 0 {
		opts.FreshFor = m.defaults.FreshFor
	}
	if opts.RetainFor <= 0 {
		opts.RetainFor = m.defaults.RetainFor
	}
	if opts.RetainFor > MaxRetain {
		opts.RetainFor = MaxRetain
	}
	if opts.RetainFor < opts.FreshFor {
		opts.RetainFor = opts.FreshFor
	}
	return opts
}

func (m *MemoryCache) cleanup() {
	now := time.Now()

	m.mu.Lock()

	expired := make([]string, 0, 16)
	for key, entry := range m.data {
		if now.After(entry.EvictAt) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		delete(m.data, key)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Debug("Cleanup completed", zap.Int("evicted_entries", len(expired)))
	}
}

func (m *MemoryCache) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 1m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-m.stopCleanup:
			m.logger.Debug("Cleanup routine stopped by signal")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryCache) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.FetchedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.FetchedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}
