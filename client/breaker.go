package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
)

type CircuitBreakerState int32

const (
	StateBreakerClosed CircuitBreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
)

type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.RWMutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger) *CircuitBreaker {
	if config == nil {
		config = &types.CircuitBreakerConfig{Enabled: false}
	}

	cb := &CircuitBreaker{
		config: config,
		logger: logger,
	}
	cb.state.Store(StateBreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		return true
	case StateBreakerOpen:
		if time.Since(time.Unix(cb.lastFail.Load(), 0)) > cb.config.RecoveryTimeout {
			cb.transitionToHalfOpen()
			return true
		}
		return false
	case StateBreakerHalfOpen:
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		cb.failures.Store(0)
	case StateBreakerHalfOpen:
		successes := cb.successes.Add(1)
		if successes >= int32(cb.config.HalfOpenRequests) {
			cb.transitionToClosed()
		}
	case StateBreakerOpen:
		cb.logger.Warn("Success recorded in open circuit breaker state")
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().Unix())

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		failures := cb.failures.Add(1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}
	case StateBreakerHalfOpen:
		cb.transitionToOpen()
	case StateBreakerOpen:
	}
}

func (cb *CircuitBreaker) GetStateString() string {
	if cb == nil || !cb.config.Enabled {
		return "disabled"
	}

	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (cb *CircuitBreaker) Reset() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.transitionToClosed()
	cb.logger.Info("Circuit breaker manually reset")
}

func (cb *CircuitBreaker) getStateUnsafe() CircuitBreakerState {
	state := cb.state.Load()
	if state == nil {
		return StateBreakerClosed
	}
	return state.(CircuitBreakerState)
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.state.Store(StateBreakerClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.lastFail.Store(0)
	cb.logger.Info("Circuit breaker closed")
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.state.Store(StateBreakerOpen)
	cb.successes.Store(0)
	cb.logger.Warn("Circuit breaker opened",
		zap.Int32("failures", cb.failures.Load()),
		zap.Int("threshold", cb.config.FailureThreshold))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.state.Store(StateBreakerHalfOpen)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker transitioned to half-open")
}

func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

func IsSuccessfulResponse(statusCode int, err error) bool {
	if err != nil {
		return false
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return true
	case statusCode >= 400 && statusCode < 500:
		return statusCode != 429 && statusCode != 408
	default:
		return false
	}
}
