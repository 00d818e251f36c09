package client

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

// OutageTracker counts consecutive transport-level failures. At the
// threshold it fires the registered callback once (the embedder
// navigates to its service-unavailable page); any subsequent success
// resets the counter and re-arms the callback. This is a blunt
// availability signal, not a retry strategy.
type OutageTracker struct {
	threshold   int32
	consecutive atomic.Int32
	tripped     atomic.Bool
	logger      types.Logger

	mu       sync.RWMutex
	onOutage func()
}

func NewOutageTracker(threshold int, logger types.Logger) *OutageTracker {
	if threshold <= 0 {
		threshold = 3
	}

	return &OutageTracker{
		threshold: int32(threshold),
		logger:    logger,
	}
}

func (t *OutageTracker) SetOnOutage(fn func()) {
	t.mu.Lock()
	t.onOutage = fn
	t.mu.Unlock()
}

func (t *OutageTracker) RecordFailure() {
	n := t.consecutive.Add(1)

	if n < t.threshold || !t.tripped.CompareAndSwap(false, true) {
		return
	}

	t.logger.Warn("Backend unreachable, outage threshold hit",
		zap.Int32("consecutive_failures", n),
		zap.Int32("threshold", t.threshold))

	t.mu.RLock()
	fn := t.onOutage
	t.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

func (t *OutageTracker) RecordSuccess() {
	if t.consecutive.Swap(0) > 0 {
		t.tripped.Store(false)
	}
}

func (t *OutageTracker) Consecutive() int {
	return int(t.consecutive.Load())
}
