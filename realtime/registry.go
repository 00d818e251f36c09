package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

// Registry maps event names to handlers. One handler per event name;
// registration is rejected once a name is taken, which keeps listener
// attachment idempotent across consumers.
type Registry struct {
	logger   types.Logger
	metrics  types.MetricsManager
	mu       sync.RWMutex
	handlers map[string]types.EventHandler
}

func NewRegistry(logger types.Logger, metrics types.MetricsManager) *Registry {
	return &Registry{
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string]types.EventHandler),
	}
}

func (r *Registry) Register(event string, handler types.EventHandler) error {
	if event == "" || handler == nil {
		return types.ErrBridgeConfigInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[event]; exists {
		return types.Errorf(types.ErrBridgeHandlerExists, "event: %s", event)
	}

	r.handlers[event] = r.wrapHandler(event, handler)

	r.logger.Debug("Event handler registered", zap.String("event", event))
	return nil
}

func (r *Registry) Handles(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.handlers[event]
	return exists
}

// Dispatch runs the handler for the event, if any. Handlers run on the
// read-loop goroutine: all cache mutation happens on one logical
// thread, so handlers need no locking of their own beyond idempotent
// merge logic.
func (r *Registry) Dispatch(event *types.Event) {
	r.mu.RLock()
	handler, exists := r.handlers[event.Name]
	r.mu.RUnlock()

	if !exists {
		r.logger.Debug("No handler for event", zap.String("event", event.Name))
		r.recordMetric(event.Name, "no_handler")
		return
	}

	if err := handler(event); err != nil {
		r.logger.Error("Event handler failed",
			zap.String("event", event.Name),
			zap.Error(err))
		r.recordMetric(event.Name, "error")
		return
	}

	r.recordMetric(event.Name, "success")
}

func (r *Registry) wrapHandler(event string, handler types.EventHandler) types.EventHandler {
	return func(e *types.Event) error {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Event handler panicked",
					zap.String("event", event),
					zap.Any("panic", rec))
				r.recordMetric(event, "panic")
			}
		}()

		start := time.Now()
		err := handler(e)

		if r.metrics != nil {
			histogram := r.metrics.Histogram("realtime_event_duration_seconds",
				[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
				map[string]string{"event": event},
			)
			histogram.Observe(time.Since(start).Seconds())
		}

		return err
	}
}

func (r *Registry) recordMetric(event, result string) {
	if r.metrics == nil {
		return
	}

	counter := r.metrics.Counter("realtime_events_total", map[string]string{
		"event":  event,
		"result": result,
	})
	counter.Inc()
}
