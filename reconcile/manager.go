package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/cache"
	"github.com/wanderlink/wander-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type countsAPI interface {
	NotificationCounts(ctx context.Context) (*types.NotificationCounts, error)
}

// Manager is the periodic safety net under the realtime bridge. Two
// scheduled jobs run on cron specs: a counters poll that replaces the
// local notification counts with the server's, and a sweep that
// refetches every watched cache entry that has gone stale. A reconnect
// signal from the bridge triggers both immediately, since events were
// likely missed while the connection was down.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *types.ReconcileConfig
	reader       *cache.Reader
	cache        types.CacheManager
	api          countsAPI
	bridge       types.EventBridge
	metrics      types.MetricsManager
	cron         *cron.Cron
	state        atomic.Value
	shutdown     chan struct{}
	shutdownOnce sync.Once
	jobTimeout   time.Duration
}

func NewManager(
	ctx context.Context,
	logger types.Logger,
	config *types.ReconcileConfig,
	reader *cache.Reader,
	cacheManager types.CacheManager,
	api countsAPI,
	bridge types.EventBridge,
	metrics types.MetricsManager,
) (*Manager, error) {
	timezone, err := time.LoadLocation(config.Timezone)
	if err != nil {
		timezone = time.UTC
	}

	cronL := safeCronLogger{logger: logger}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		config:  config,
		reader:  reader,
		cache:   cacheManager,
		api:     api,
		bridge:  bridge,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL)),
		),
		shutdown:   make(chan struct{}),
		jobTimeout: 2 * time.Minute,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.config.Enabled {
		m.logger.Info("Reconciliation disabled")
		return nil
	}

	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.state.Store(StateRunning)
		}
	}()

	if m.config.CountsSpec != "" {
		if _, err := m.cron.AddFunc(m.config.CountsSpec, m.wrapJob("counts_poll", m.pollCounts)); err != nil {
			m.state.Store(StateStopped)
			return types.WrapError(err, "failed to schedule counts poll")
		}
	}

	if m.config.SweepSpec != "" {
		if _, err := m.cron.AddFunc(m.config.SweepSpec, m.wrapJob("stale_sweep", m.sweepStale)); err != nil {
			m.state.Store(StateStopped)
			return types.WrapError(err, "failed to schedule stale sweep")
		}
	}

	m.cron.Start()

	if m.bridge != nil {
		go m.watchResync()
	}

	m.logger.Info("Reconciliation manager started",
		zap.String("counts_spec", m.config.CountsSpec),
		zap.String("sweep_spec", m.config.SweepSpec))

	return nil
}

func (m *Manager) Stop() error {
	if !m.config.Enabled {
		return nil
	}

	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer func() {
			m.state.Store(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)

		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
			m.logger.Info("Reconciliation manager stopped gracefully")
		case <-time.After(10 * time.Second):
			m.logger.Warn("Reconciliation manager stop timeout")
			err = types.ErrInvalidState
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// watchResync runs both jobs immediately whenever the bridge signals a
// reconnect. Whatever the connection missed is unknowable, so the only
// safe move is to refetch.
func (m *Manager) watchResync() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-m.bridge.ResyncC():
			m.logger.Info("Realtime reconnected, running full resync")
			m.wrapJob("resync_counts", m.pollCounts)()
			m.wrapJob("resync_sweep", m.sweepStale)()
		}
	}
}

// pollCounts replaces the local counters with the server's. Local
// counter patches from push events are advisory; this is where they get
// squared with reality.
func (m *Manager) pollCounts() {
	ctx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
	defer cancel()

	counts, err := m.api.NotificationCounts(ctx)
	if err != nil {
		m.logger.Debug("Counts poll failed", zap.Error(err))
		return
	}

	counts.FetchedAt = time.Now()

	if err := m.cache.Store(cache.CountsKey(), counts, types.EntryOptions{}); err != nil {
		m.logger.Error("Failed to store polled counts", zap.Error(err))
	}
}

func (m *Manager) sweepStale() {
	ctx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
	defer cancel()

	refreshed := m.reader.RefreshStale(ctx)
	if refreshed > 0 {
		m.logger.Debug("Stale sweep refreshed entries", zap.Int("refreshed", refreshed))
	}
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in reconciliation job",
					zap.String("job_name", jobName),
					zap.Any("panic", r))
				m.recordJob(jobName, "panic", 0)
			}
		}()

		select {
		case <-m.shutdown:
			return
		default:
		}

		start := time.Now()
		job()
		m.recordJob(jobName, "success", time.Since(start))
	}
}

func (m *Manager) recordJob(jobName, result string, duration time.Duration) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("reconcile_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	})
	counter.Inc()

	if duration > 0 {
		histogram := m.metrics.Histogram("reconcile_job_duration_seconds",
			[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
			map[string]string{"job_name": jobName},
		)
		histogram.Observe(duration.Seconds())
	}
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, toZapFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toZapFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
