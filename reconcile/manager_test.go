package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/types"
)

type fakeCountsAPI struct {
	calls  int64
	counts types.NotificationCounts
}

func (f *fakeCountsAPI) NotificationCounts(ctx context.Context) (*types.NotificationCounts, error) {
	atomic.AddInt64(&f.calls, 1)
	c := f.counts
	return &c, nil
}

type fakeBridge struct {
	resync chan struct{}
}

func (b *fakeBridge) Acquire() error                                  { return nil }
func (b *fakeBridge) Release() error                                  { return nil }
func (b *fakeBridge) On(event string, handler types.EventHandler) error { return nil }
func (b *fakeBridge) Consumers() int                                  { return 0 }
func (b *fakeBridge) IsConnected() bool                               { return true }
func (b *fakeBridge) ResyncC() <-chan struct{}                        { return b.resync }

func newTestManager(t *testing.T, config *types.ReconcileConfig, api *fakeCountsAPI, bridge types.EventBridge) (*Manager, types.CacheManager, *cache.Reader) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	cacheCfg := &types.CacheConfig{
		DefaultFreshFor:  time.Minute,
		DefaultRetainFor: time.Hour,
	}

	c, err := cache.NewMemoryCache(context.Background(), log, cacheCfg)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	reader := cache.NewReader(c, log, cacheCfg)

	m, err := NewManager(context.Background(), log, config, reader, c, api, bridge, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, c, reader
}

func TestManagerLifecycle(t *testing.T) {
	m, _, _ := newTestManager(t, &types.ReconcileConfig{
		Enabled:    true,
		CountsSpec: "0 0 1 * * *",
		SweepSpec:  "0 30 1 * * *",
		Timezone:   "UTC",
	}, &fakeCountsAPI{}, nil)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("manager must report running")
	}
	if err := m.Start(); !types.IsError(err, types.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.IsRunning() {
		t.Fatal("manager must report stopped")
	}
}

func TestManagerDisabledIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t, &types.ReconcileConfig{Enabled: false}, &fakeCountsAPI{}, nil)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.IsRunning() {
		t.Fatal("disabled manager must not run")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestReconnectTriggersImmediateResync(t *testing.T) {
	api := &fakeCountsAPI{counts: types.NotificationCounts{UnreadMessages: 11}}
	bridge := &fakeBridge{resync: make(chan struct{}, 1)}

	// Cron specs far in the future: only the resync path can fire.
	m, c, reader := newTestManager(t, &types.ReconcileConfig{
		Enabled:    true,
		CountsSpec: "0 0 1 * * *",
		SweepSpec:  "0 30 1 * * *",
		Timezone:   "UTC",
	}, api, bridge)

	// A watched entry that went stale while the connection was down.
	var refetched int64
	reader.Watch("chains", types.EntryOptions{}, func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&refetched, 1)
		return "fresh-chains", nil
	})
	_ = c.Store("chains", "stale-chains", types.EntryOptions{})
	_ = c.Invalidate("chains")

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop() }()

	bridge.resync <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		countsValue, _ := c.Lookup(cache.CountsKey())
		chainsValue, _ := c.Lookup("chains")
		if countsValue != nil && chainsValue == "fresh-chains" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("resync never ran: counts=%d refetched=%d",
				atomic.LoadInt64(&api.calls), atomic.LoadInt64(&refetched))
		case <-time.After(10 * time.Millisecond):
		}
	}

	value, freshness := c.Lookup(cache.CountsKey())
	if freshness != types.FreshnessFresh {
		t.Fatalf("counts must be stored fresh, got %s", freshness)
	}
	if value.(*types.NotificationCounts).UnreadMessages != 11 {
		t.Fatal("resync must store the polled counters")
	}
}
