package realtime

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

type BridgeState int32

const (
	BridgeStateStopped BridgeState = iota
	BridgeStateStarting
	BridgeStateRunning
	BridgeStateStopping
	BridgeStateReconnecting
)

// Bridge is the shared realtime connection. It is lazy: the first
// Acquire dials the server, the last Release tears the connection down.
// Incoming events are dispatched synchronously on the read loop, so all
// cache mutation triggered by push traffic happens on one goroutine.
//
// Reconnection is bounded. When MaxRetries consecutive attempts fail
// the bridge goes back to Stopped; the next Acquire dials again. Every
// successful reconnect signals ResyncC so the reconciler can refetch
// whatever changed while the connection was down.
type Bridge struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	config   *types.RealtimeConfig
	store    types.LocalStore
	registry *Registry
	metrics  types.MetricsManager

	conn   *websocket.Conn
	connMu sync.RWMutex

	lifeMu    sync.Mutex
	consumers int

	session       context.Context
	sessionCancel context.CancelFunc

	reconnectCh       chan struct{}
	resyncCh          chan struct{}
	state             atomic.Value
	reconnectAttempts int32
}

func NewBridge(ctx context.Context, logger types.Logger, config *types.RealtimeConfig, store types.LocalStore, metrics types.MetricsManager) (*Bridge, error) {
	if config == nil || config.URL == "" {
		return nil, types.ErrBridgeConfigInvalid
	}

	cfg := *config
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}

	bridgeCtx, cancel := context.WithCancel(ctx)

	bridge := &Bridge{
		ctx:      bridgeCtx,
		cancel:   cancel,
		logger:   logger,
		config:   &cfg,
		store:    store,
		registry: NewRegistry(logger, metrics),
		metrics:  metrics,
		resyncCh: make(chan struct{}, 1),
	}

	bridge.state.Store(BridgeStateStopped)

	logger.Info("Event bridge initialized",
		zap.String("url", cfg.URL),
		zap.Duration("reconnect_delay", cfg.ReconnectDelay),
		zap.Int("max_retries", cfg.MaxRetries))

	return bridge, nil
}

func (b *Bridge) On(event string, handler types.EventHandler) error {
	return b.registry.Register(event, handler)
}

// Acquire registers a consumer. The connection is established when the
// consumer count goes from zero to one; later consumers reuse it.
func (b *Bridge) Acquire() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.consumers++

	if b.getState() != BridgeStateStopped {
		b.logger.Debug("Bridge consumer attached",
			zap.Int("consumers", b.consumers))
		return nil
	}

	if err := b.start(); err != nil {
		b.consumers--
		return err
	}

	return nil
}

// Release detaches a consumer. When the last one leaves the connection
// is closed; cached data stays put and goes stale on its own schedule.
func (b *Bridge) Release() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.consumers == 0 {
		return types.ErrBridgeNotConnected
	}

	b.consumers--

	if b.consumers > 0 {
		b.logger.Debug("Bridge consumer detached",
			zap.Int("consumers", b.consumers))
		return nil
	}

	// Reconnect exhaustion already tore the session down; the last
	// detach is a normal one.
	if b.getState() == BridgeStateStopped {
		return nil
	}

	return b.stop()
}

func (b *Bridge) Consumers() int {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.consumers
}

func (b *Bridge) IsConnected() bool {
	return b.getState() == BridgeStateRunning
}

// ResyncC signals once per successful reconnect. Receivers should treat
// a signal as "events may have been missed" and refetch aggressively.
func (b *Bridge) ResyncC() <-chan struct{} {
	return b.resyncCh
}

func (b *Bridge) Close() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.consumers = 0

	if b.getState() != BridgeStateStopped {
		_ = b.stop()
	}

	b.cancel()
	return nil
}

// start dials and spins up the per-session pumps. Callers hold lifeMu.
func (b *Bridge) start() error {
	if !b.transitionState(BridgeStateStopped, BridgeStateStarting) {
		return types.ErrAlreadyRunning
	}

	if err := b.connect(); err != nil {
		b.state.Store(BridgeStateStopped)
		return types.WrapError(err, "failed to establish realtime connection")
	}

	session, sessionCancel := context.WithCancel(b.ctx)
	b.session = session
	b.sessionCancel = sessionCancel
	b.reconnectCh = make(chan struct{}, 1)
	atomic.StoreInt32(&b.reconnectAttempts, 0)

	b.state.Store(BridgeStateRunning)

	go b.readPump(session)
	go b.pingPump(session)
	go b.reconnectLoop(session)

	b.logger.Info("Event bridge connected")
	return nil
}

// stop tears the session down. Callers hold lifeMu.
func (b *Bridge) stop() error {
	if !b.transitionState(BridgeStateRunning, BridgeStateStopping) &&
		!b.transitionState(BridgeStateReconnecting, BridgeStateStopping) &&
		!b.transitionState(BridgeStateStarting, BridgeStateStopping) {
		return types.ErrNotRunning
	}

	if b.sessionCancel != nil {
		b.sessionCancel()
	}

	b.connMu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.connMu.Unlock()

	b.state.Store(BridgeStateStopped)

	b.logger.Info("Event bridge disconnected")
	return nil
}

func (b *Bridge) getState() BridgeState {
	return b.state.Load().(BridgeState)
}

func (b *Bridge) transitionState(from, to BridgeState) bool {
	return b.state.CompareAndSwap(from, to)
}

func (b *Bridge) connect() error {
	b.logger.Debug("Dialing realtime server", zap.String("url", b.config.URL))

	dialCtx, cancel := context.WithTimeout(b.ctx, b.config.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if b.store != nil {
		if token, ok := b.store.Get(types.StoreKeySessionToken); ok && token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: b.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(dialCtx, b.config.URL, header)
	if err != nil {
		return types.WrapError(err, "failed to dial realtime server")
	}

	_ = conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
		return nil
	})

	b.connMu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.connMu.Unlock()

	return nil
}

func (b *Bridge) readPump(session context.Context) {
	defer b.logger.Debug("Read pump stopped")

	for {
		select {
		case <-session.Done():
			return
		default:
		}

		b.connMu.RLock()
		conn := b.conn
		b.connMu.RUnlock()

		if conn == nil || b.getState() != BridgeStateRunning {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Debug("Realtime connection closed", zap.Error(err))
			} else {
				b.logger.Warn("Realtime read failed", zap.Error(err))
			}

			b.triggerReconnect()
			return
		}

		var event types.Event
		if err := utils.Unmarshal(data, &event); err != nil {
			b.logger.Error("Failed to unmarshal event", zap.Error(err))
			continue
		}

		if event.Name == "" {
			b.logger.Debug("Dropping unnamed event")
			continue
		}

		event.ReceivedAt = time.Now()
		b.registry.Dispatch(&event)
	}
}

func (b *Bridge) pingPump(session context.Context) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		b.logger.Debug("Ping pump stopped")
	}()

	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
			if b.getState() != BridgeStateRunning {
				return
			}

			b.connMu.RLock()
			conn := b.conn
			b.connMu.RUnlock()

			if conn == nil {
				return
			}

			deadline := time.Now().Add(b.config.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.logger.Warn("Ping failed", zap.Error(err))
				b.triggerReconnect()
				return
			}
		}
	}
}

func (b *Bridge) reconnectLoop(session context.Context) {
	defer b.logger.Debug("Reconnect loop stopped")

	for {
		select {
		case <-session.Done():
			return
		case <-b.reconnectCh:
			if !b.transitionState(BridgeStateRunning, BridgeStateReconnecting) {
				continue
			}

			if !b.reconnect(session) {
				return
			}
		}
	}
}

// reconnect retries with a fixed delay until it succeeds or the retry
// budget runs out. Returns false when the bridge gave up.
func (b *Bridge) reconnect(session context.Context) bool {
	for {
		attempt := atomic.AddInt32(&b.reconnectAttempts, 1)

		if int(attempt) > b.config.MaxRetries {
			b.logger.Error("Max reconnection attempts reached, giving up",
				zap.Int("max_retries", b.config.MaxRetries))
			b.recordReconnect("exhausted")

			b.teardown()
			b.state.Store(BridgeStateStopped)
			return false
		}

		b.logger.Info("Reconnecting to realtime server",
			zap.Int32("attempt", attempt),
			zap.Int("max_retries", b.config.MaxRetries))

		select {
		case <-time.After(b.config.ReconnectDelay):
		case <-session.Done():
			return false
		}

		if err := b.connect(); err != nil {
			b.logger.Warn("Reconnection attempt failed",
				zap.Int32("attempt", attempt),
				zap.Error(err))
			b.recordReconnect("failed")
			continue
		}

		atomic.StoreInt32(&b.reconnectAttempts, 0)
		b.state.Store(BridgeStateRunning)
		b.recordReconnect("success")

		go b.readPump(session)
		go b.pingPump(session)

		// The connection was down for an unknown window; tell the
		// reconciler to refetch rather than trust the cache.
		select {
		case b.resyncCh <- struct{}{}:
		default:
		}

		b.logger.Info("Reconnected to realtime server")
		return true
	}
}

// teardown cancels the session pumps and closes the socket. Used on
// the give-up path, where no consumer drives stop().
func (b *Bridge) teardown() {
	b.lifeMu.Lock()
	sessionCancel := b.sessionCancel
	b.lifeMu.Unlock()

	b.connMu.Lock()
	conn := b.conn
	b.conn = nil
	b.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if sessionCancel != nil {
		sessionCancel()
	}
}

func (b *Bridge) triggerReconnect() {
	select {
	case b.reconnectCh <- struct{}{}:
	case <-b.ctx.Done():
	default:
	}
}

func (b *Bridge) recordReconnect(result string) {
	if b.metrics == nil {
		return
	}

	counter := b.metrics.Counter("realtime_reconnects_total", map[string]string{
		"result": result,
	})
	counter.Inc()
}
