package prefetch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/types"
)

// loaderAPI is the slice of the REST API the warm-up stages fetch from.
type loaderAPI interface {
	Projects(ctx context.Context, feed string, page int) (*types.ProjectPage, error)
	Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error)
	Chains(ctx context.Context) ([]types.Chain, error)
	TravelGroups(ctx context.Context) ([]types.TravelGroup, error)
	Investors(ctx context.Context) ([]types.Investor, error)
	Conversations(ctx context.Context) (*types.ConversationList, error)
	IntroRequests(ctx context.Context) (*types.IntroRequestList, error)
	NotificationCounts(ctx context.Context) (*types.NotificationCounts, error)
	AdminOverview(ctx context.Context) (*types.AdminOverview, error)
}

var feeds = []string{"trending", "fresh"}

// Orchestrator warms the cache in three stages after startup:
//
//	stage 1: public catalog data, fetched in parallel immediately;
//	stage 2: session-scoped data (conversations, intros, counters),
//	         after an idle delay and only when a session token exists;
//	stage 3: admin overview, for admin sessions.
//
// Stages 2 and 3 are skipped entirely on a constrained network. A
// prefetch failure is logged and forgotten; the read path fetches on
// demand whatever the warm-up missed.
type Orchestrator struct {
	logger  types.Logger
	config  *types.PrefetchConfig
	reader  *cache.Reader
	api     loaderAPI
	store   types.LocalStore
	network types.NetworkMonitor
	metrics types.MetricsManager
	isAdmin func() bool

	started atomic.Bool
}

func NewOrchestrator(
	logger types.Logger,
	config *types.PrefetchConfig,
	reader *cache.Reader,
	api loaderAPI,
	store types.LocalStore,
	network types.NetworkMonitor,
	metrics types.MetricsManager,
	isAdmin func() bool,
) *Orchestrator {
	cfg := *config
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 2 * time.Second
	}
	if cfg.FeedPages <= 0 {
		cfg.FeedPages = 1
	}

	return &Orchestrator{
		logger:  logger,
		config:  &cfg,
		reader:  reader,
		api:     api,
		store:   store,
		network: network,
		metrics: metrics,
		isAdmin: isAdmin,
	}
}

// Run executes the staged warm-up at most once per process. Subsequent
// calls are no-ops.
func (o *Orchestrator) Run(ctx context.Context) {
	if !o.config.Enabled {
		return
	}

	if !o.started.CompareAndSwap(false, true) {
		o.logger.Debug("Prefetch already ran, skipping")
		return
	}

	o.runStage(ctx, "public", o.publicLoaders())

	select {
	case <-time.After(o.config.IdleDelay):
	case <-ctx.Done():
		return
	}

	if o.network != nil && o.network.Constrained() {
		o.logger.Info("Network constrained, skipping session prefetch stages")
		o.recordStage("session", "skipped_network")
		o.recordStage("admin", "skipped_network")
		return
	}

	if !o.hasSession() {
		o.logger.Debug("No session token, skipping session prefetch stages")
		o.recordStage("session", "skipped_no_session")
		return
	}

	o.runStage(ctx, "session", o.sessionLoaders())

	if o.isAdmin == nil || !o.isAdmin() {
		return
	}

	o.runStage(ctx, "admin", o.adminLoaders())
}

type prefetchTask struct {
	key    string
	loader types.Loader
}

// runStage fetches every task in parallel. Failures never propagate;
// the warm-up is best effort by contract.
func (o *Orchestrator) runStage(ctx context.Context, stage string, tasks []prefetchTask) {
	start := time.Now()

	g, gCtx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		t := task

		// Watched keys stay on the reconciliation sweep's radar even
		// if this particular fetch fails.
		o.reader.Watch(t.key, types.EntryOptions{}, t.loader)

		g.Go(func() error {
			if _, err := o.reader.Read(gCtx, t.key, t.loader); err != nil {
				o.logger.Debug("Prefetch task failed",
					zap.String("stage", stage),
					zap.String("key", t.key),
					zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()

	o.logger.Info("Prefetch stage finished",
		zap.String("stage", stage),
		zap.Int("tasks", len(tasks)),
		zap.Duration("took", time.Since(start)))

	o.recordStage(stage, "done")
}

func (o *Orchestrator) publicLoaders() []prefetchTask {
	tasks := []prefetchTask{
		{cache.LeaderboardKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.Leaderboard(ctx)
		}},
		{cache.ChainsKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.Chains(ctx)
		}},
		{cache.GroupsKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.TravelGroups(ctx)
		}},
		{cache.InvestorsKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.Investors(ctx)
		}},
	}

	for _, feed := range feeds {
		for page := 1; page <= o.config.FeedPages; page++ {
			f, p := feed, page
			tasks = append(tasks, prefetchTask{
				cache.ProjectsKey(f, p),
				func(ctx context.Context) (interface{}, error) {
					return o.api.Projects(ctx, f, p)
				},
			})
		}
	}

	return tasks
}

func (o *Orchestrator) sessionLoaders() []prefetchTask {
	return []prefetchTask{
		{cache.ConversationsKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.Conversations(ctx)
		}},
		{cache.IntrosKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.IntroRequests(ctx)
		}},
		{cache.CountsKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.NotificationCounts(ctx)
		}},
	}
}

func (o *Orchestrator) adminLoaders() []prefetchTask {
	return []prefetchTask{
		{cache.AdminOverviewKey(), func(ctx context.Context) (interface{}, error) {
			return o.api.AdminOverview(ctx)
		}},
	}
}

func (o *Orchestrator) hasSession() bool {
	if o.store == nil {
		return false
	}

	token, ok := o.store.Get(types.StoreKeySessionToken)
	return ok && token != ""
}

func (o *Orchestrator) recordStage(stage, result string) {
	if o.metrics == nil {
		return
	}

	counter := o.metrics.Counter("prefetch_stages_total", map[string]string{
		"stage":  stage,
		"result": result,
	})
	counter.Inc()
}
