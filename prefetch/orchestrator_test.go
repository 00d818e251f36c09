package prefetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/store"
	"github.com/wanderlink/wander-sync/types"
)

type countingAPI struct {
	public  int64
	session int64
	admin   int64

	failChains bool
}

func (a *countingAPI) Projects(ctx context.Context, feed string, page int) (*types.ProjectPage, error) {
	atomic.AddInt64(&a.public, 1)
	return &types.ProjectPage{Page: page}, nil
}

func (a *countingAPI) Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	atomic.AddInt64(&a.public, 1)
	return nil, nil
}

func (a *countingAPI) Chains(ctx context.Context) ([]types.Chain, error) {
	atomic.AddInt64(&a.public, 1)
	if a.failChains {
		return nil, types.ErrClientRequestFailed
	}
	return []types.Chain{{ID: "ch1"}}, nil
}

func (a *countingAPI) TravelGroups(ctx context.Context) ([]types.TravelGroup, error) {
	atomic.AddInt64(&a.public, 1)
	return nil, nil
}

func (a *countingAPI) Investors(ctx context.Context) ([]types.Investor, error) {
	atomic.AddInt64(&a.public, 1)
	return nil, nil
}

func (a *countingAPI) Conversations(ctx context.Context) (*types.ConversationList, error) {
	atomic.AddInt64(&a.session, 1)
	return &types.ConversationList{}, nil
}

func (a *countingAPI) IntroRequests(ctx context.Context) (*types.IntroRequestList, error) {
	atomic.AddInt64(&a.session, 1)
	return &types.IntroRequestList{}, nil
}

func (a *countingAPI) NotificationCounts(ctx context.Context) (*types.NotificationCounts, error) {
	atomic.AddInt64(&a.session, 1)
	return &types.NotificationCounts{}, nil
}

func (a *countingAPI) AdminOverview(ctx context.Context) (*types.AdminOverview, error) {
	atomic.AddInt64(&a.admin, 1)
	return &types.AdminOverview{}, nil
}

type fixedNetwork bool

func (n fixedNetwork) Constrained() bool { return bool(n) }

type orchestratorOptions struct {
	token   string
	network types.NetworkMonitor
	isAdmin func() bool
	api     *countingAPI
}

func newTestOrchestrator(t *testing.T, opts orchestratorOptions) (*Orchestrator, *countingAPI, types.CacheManager) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	cfg := &types.CacheConfig{
		DefaultFreshFor:  time.Minute,
		DefaultRetainFor: time.Hour,
	}

	c, err := cache.NewMemoryCache(context.Background(), log, cfg)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}

	localStore := store.NewMemoryStore()
	if opts.token != "" {
		_ = localStore.Set(types.StoreKeySessionToken, opts.token)
	}

	api := opts.api
	if api == nil {
		api = &countingAPI{}
	}

	o := NewOrchestrator(log, &types.PrefetchConfig{
		Enabled:   true,
		IdleDelay: time.Millisecond,
		FeedPages: 1,
	}, cache.NewReader(c, log, cfg), api, localStore, opts.network, nil, opts.isAdmin)

	return o, api, c
}

func TestRunWarmsPublicAndSessionStages(t *testing.T) {
	o, api, c := newTestOrchestrator(t, orchestratorOptions{token: "tok"})

	o.Run(context.Background())

	// 4 catalog endpoints + 2 feeds x 1 page.
	if n := atomic.LoadInt64(&api.public); n != 6 {
		t.Fatalf("expected 6 public fetches, got %d", n)
	}
	if n := atomic.LoadInt64(&api.session); n != 3 {
		t.Fatalf("expected 3 session fetches, got %d", n)
	}
	if n := atomic.LoadInt64(&api.admin); n != 0 {
		t.Fatalf("admin stage must be skipped without an admin check, got %d", n)
	}

	if _, freshness := c.Lookup(cache.ChainsKey()); freshness != types.FreshnessFresh {
		t.Fatal("warm-up must land in the cache")
	}
	if _, freshness := c.Lookup(cache.ProjectsKey("trending", 1)); freshness != types.FreshnessFresh {
		t.Fatal("feed pages must be warmed")
	}
}

func TestRunSkipsSessionStagesWithoutToken(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, orchestratorOptions{})

	o.Run(context.Background())

	if n := atomic.LoadInt64(&api.session); n != 0 {
		t.Fatalf("session stage must be skipped without a token, got %d", n)
	}
}

func TestRunSkipsLateStagesOnConstrainedNetwork(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, orchestratorOptions{
		token:   "tok",
		network: fixedNetwork(true),
		isAdmin: func() bool { return true },
	})

	o.Run(context.Background())

	if n := atomic.LoadInt64(&api.public); n == 0 {
		t.Fatal("public stage must run regardless of the network")
	}
	if n := atomic.LoadInt64(&api.session) + atomic.LoadInt64(&api.admin); n != 0 {
		t.Fatalf("constrained network must skip session and admin stages, got %d", n)
	}
}

func TestRunAdminStageGatedByCheck(t *testing.T) {
	o, api, c := newTestOrchestrator(t, orchestratorOptions{
		token:   "tok",
		isAdmin: func() bool { return true },
	})

	o.Run(context.Background())

	if n := atomic.LoadInt64(&api.admin); n != 1 {
		t.Fatalf("expected 1 admin fetch, got %d", n)
	}
	if _, freshness := c.Lookup(cache.AdminOverviewKey()); freshness != types.FreshnessFresh {
		t.Fatal("admin overview must be warmed")
	}
}

func TestRunIsAtMostOnce(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, orchestratorOptions{token: "tok"})

	o.Run(context.Background())
	first := atomic.LoadInt64(&api.public)

	o.Run(context.Background())
	if atomic.LoadInt64(&api.public) != first {
		t.Fatal("second Run must be a no-op")
	}
}

func TestRunSwallowsFetchFailures(t *testing.T) {
	api := &countingAPI{failChains: true}
	o, _, c := newTestOrchestrator(t, orchestratorOptions{token: "tok", api: api})

	o.Run(context.Background())

	// The failed endpoint stays cold; everything else lands.
	if _, freshness := c.Lookup(cache.ChainsKey()); freshness != types.FreshnessMiss {
		t.Fatal("failed fetch must leave the entry cold")
	}
	if _, freshness := c.Lookup(cache.LeaderboardKey()); freshness != types.FreshnessFresh {
		t.Fatal("other tasks must still be warmed")
	}
	if n := atomic.LoadInt64(&api.session); n != 3 {
		t.Fatalf("a public-stage failure must not block later stages, got %d", n)
	}
}

func TestRunDisabledDoesNothing(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	cfg := &types.CacheConfig{DefaultFreshFor: time.Minute, DefaultRetainFor: time.Hour}
	c, _ := cache.NewMemoryCache(context.Background(), log, cfg)

	api := &countingAPI{}
	o := NewOrchestrator(log, &types.PrefetchConfig{Enabled: false}, cache.NewReader(c, log, cfg), api, store.NewMemoryStore(), nil, nil, nil)

	o.Run(context.Background())

	if atomic.LoadInt64(&api.public) != 0 {
		t.Fatal("disabled prefetch must not fetch")
	}
}
