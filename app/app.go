package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanderlink/wander-sync/booking"
	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/client"
	"github.com/wanderlink/wander-sync/config"
	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/metrics"
	"github.com/wanderlink/wander-sync/mutation"
	"github.com/wanderlink/wander-sync/prefetch"
	"github.com/wanderlink/wander-sync/realtime"
	"github.com/wanderlink/wander-sync/reconcile"
	"github.com/wanderlink/wander-sync/store"
	"github.com/wanderlink/wander-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Option customizes the assembly with embedder-provided hooks.
type Option func(*App)

// WithAlerter wires the embedder's notification surface.
func WithAlerter(alerter types.Alerter) Option {
	return func(a *App) { a.alerter = alerter }
}

// WithNetworkMonitor wires connectivity awareness for the prefetch
// stages. Without one, the network is assumed unconstrained.
func WithNetworkMonitor(monitor types.NetworkMonitor) Option {
	return func(a *App) { a.network = monitor }
}

// WithAdminCheck tells the prefetcher whether the session is an admin.
func WithAdminCheck(fn func() bool) Option {
	return func(a *App) { a.isAdmin = fn }
}

// WithOnOutage is called once when the backend becomes unreachable
// (consecutive transport failures crossed the threshold). A later
// success re-arms it.
func WithOnOutage(fn func()) Option {
	return func(a *App) { a.onOutage = fn }
}

// App assembles the SDK: cache, read-through layer, REST client,
// realtime bridge, optimistic commands, prefetch, reconciliation and
// local store, all wired by injection. Every dependency is explicit;
// there is no package-level singleton to reach for.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager

	localStore types.LocalStore
	cache      types.CacheManager
	reader     *cache.Reader
	httpClient *client.HTTPClient
	api        *client.API
	bridge     *realtime.Bridge
	commands   *mutation.Commands
	prefetcher *prefetch.Orchestrator
	reconciler *reconcile.Manager
	booking    *booking.Flow

	alerter  types.Alerter
	network  types.NetworkMonitor
	isAdmin  func() bool
	onOutage func()

	state           atomic.Value
	shutdownTimeout time.Duration
}

// New builds the SDK from a config file.
func New(ctx context.Context, configPath string, opts ...Option) (*App, error) {
	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load config")
	}
	return assemble(ctx, configManager, opts...)
}

// NewFromConfig builds the SDK from an in-memory config. Used by tests
// and embedders that manage configuration themselves.
func NewFromConfig(ctx context.Context, cfg *types.AppConfig, opts ...Option) (*App, error) {
	return assemble(ctx, config.NewManagerFromConfig(cfg), opts...)
}

func assemble(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*App, error) {
	cfg := configManager.GetConfig()
	normalize(cfg)

	appCtx, cancel := context.WithCancel(ctx)

	app := &App{
		ctx:             appCtx,
		cancel:          cancel,
		config:          configManager,
		shutdownTimeout: 30 * time.Second,
	}
	app.state.Store(StateStopped)

	for _, opt := range opts {
		opt(app)
	}

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build logger")
	}
	app.logger = log

	metricsManager, err := metrics.NewMetricsManager(log, cfg.Metrics)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build metrics manager")
	}
	app.metrics = metricsManager

	localStore, err := store.NewLocalStore(log, cfg.Store)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build local store")
	}
	app.localStore = localStore

	cacheManager, err := cache.NewCacheManager(appCtx, configManager, log, metricsManager)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build cache manager")
	}
	app.cache = cacheManager
	app.reader = cache.NewReader(cacheManager, log, cfg.Cache)

	app.httpClient = client.NewHTTPClient(appCtx, log, cfg.API, localStore)
	if app.onOutage != nil {
		app.httpClient.SetOnOutage(app.onOutage)
	}
	app.api = client.NewAPI(app.httpClient)

	bridge, err := realtime.NewBridge(appCtx, log, cfg.Realtime, localStore, metricsManager)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build event bridge")
	}
	app.bridge = bridge

	handlers := realtime.NewCacheHandlers(log, cacheManager, app.alerter)
	if err := handlers.RegisterAll(bridge); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register event handlers")
	}

	mutator := mutation.NewMutator(log, cacheManager, metricsManager)
	app.commands = mutation.NewCommands(mutator, cacheManager, app.api)

	app.prefetcher = prefetch.NewOrchestrator(
		log, cfg.Prefetch, app.reader, app.api, localStore,
		app.network, metricsManager, app.isAdmin,
	)

	reconciler, err := reconcile.NewManager(
		appCtx, log, cfg.Reconcile, app.reader, cacheManager,
		app.api, bridge, metricsManager,
	)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build reconciliation manager")
	}
	app.reconciler = reconciler

	app.booking = booking.NewFlow(log, app.api, cacheManager)

	return app, nil
}

// Start brings the components up and kicks off the staged prefetch in
// the background. The realtime bridge stays down until the first
// consumer acquires it.
func (a *App) Start() error {
	if !a.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	if a.metrics != nil {
		if err := a.metrics.Start(); err != nil {
			a.state.Store(StateStopped)
			return types.WrapError(err, "failed to start metrics")
		}
	}

	if err := a.cache.Start(); err != nil {
		a.state.Store(StateStopped)
		return types.WrapError(err, "failed to start cache")
	}

	if err := a.reconciler.Start(); err != nil {
		a.state.Store(StateStopped)
		return types.WrapError(err, "failed to start reconciliation")
	}

	a.state.Store(StateRunning)

	go a.prefetcher.Run(a.ctx)

	a.logger.Info("wander-sync started",
		zap.String("name", a.config.GetConfig().Name),
		zap.String("version", a.config.GetConfig().Version))

	return nil
}

// Stop shuts everything down. Cached data is discarded; the local store
// is flushed and closed.
func (a *App) Stop() error {
	if !a.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		a.state.Store(StateStopped)
		a.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.reconciler.Stop(); err != nil && !types.IsError(err, types.ErrNotRunning) {
			a.logger.Error("Failed to stop reconciliation", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		if err := a.bridge.Close(); err != nil {
			a.logger.Error("Failed to close event bridge", zap.Error(err))
		}
		return nil
	})

	_ = g.Wait()

	a.httpClient.Close()

	if err := a.cache.Stop(); err != nil && !types.IsError(err, types.ErrNotRunning) {
		a.logger.Error("Failed to stop cache", zap.Error(err))
	}

	if err := a.localStore.Close(); err != nil {
		a.logger.Error("Failed to close local store", zap.Error(err))
	}

	if a.metrics != nil {
		if err := a.metrics.Stop(); err != nil && !types.IsError(err, types.ErrNotRunning) {
			a.logger.Error("Failed to stop metrics", zap.Error(err))
		}
	}

	a.logger.Info("wander-sync stopped gracefully")
	return nil
}

func (a *App) IsRunning() bool {
	return a.getState() == StateRunning
}

func (a *App) getState() State {
	return a.state.Load().(State)
}

func (a *App) transitionState(from, to State) bool {
	return a.state.CompareAndSwap(from, to)
}

// Accessors for the embedder-facing surfaces.

func (a *App) Logger() types.Logger         { return a.logger }
func (a *App) Cache() types.CacheManager    { return a.cache }
func (a *App) Reader() *cache.Reader        { return a.reader }
func (a *App) API() *client.API             { return a.api }
func (a *App) Bridge() types.EventBridge    { return a.bridge }
func (a *App) Commands() *mutation.Commands { return a.commands }
func (a *App) Booking() *booking.Flow       { return a.booking }
func (a *App) Store() types.LocalStore      { return a.localStore }
func (a *App) Metrics() types.MetricsManager {
	return a.metrics
}

// SetSessionToken persists the bearer token used by the REST client and
// the realtime handshake.
func (a *App) SetSessionToken(token string) error {
	if token == "" {
		return a.localStore.Delete(types.StoreKeySessionToken)
	}
	return a.localStore.Set(types.StoreKeySessionToken, token)
}

// normalize fills in the optional config sections so the assembly can
// rely on them being non-nil.
func normalize(cfg *types.AppConfig) {
	if cfg.API == nil {
		cfg.API = &types.APIConfig{}
	}
	if cfg.Realtime == nil {
		cfg.Realtime = &types.RealtimeConfig{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &types.LoggerConfig{Level: "info"}
	}
	if cfg.Cache == nil {
		cfg.Cache = &types.CacheConfig{}
	}
	if cfg.Prefetch == nil {
		cfg.Prefetch = &types.PrefetchConfig{}
	}
	if cfg.Reconcile == nil {
		cfg.Reconcile = &types.ReconcileConfig{}
	}
	if cfg.Store == nil {
		cfg.Store = &types.StoreConfig{}
	}
}
