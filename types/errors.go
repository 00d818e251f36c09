package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheTypeUnknown     = errors.New("cache type unknown")
	ErrCacheEntryNotFound   = errors.New("cache entry not found")
	ErrCacheOperationFailed = errors.New("cache operation failed")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientNotRunning      = errors.New("client not running")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrServerEnvelope        = errors.New("server rejected request")
)

var (
	ErrBridgeNotConnected  = errors.New("bridge not connected")
	ErrBridgeHandlerExists = errors.New("bridge handler already registered")
	ErrBridgeConfigInvalid = errors.New("bridge config invalid")
)

var (
	ErrMutationKeyMissing = errors.New("mutation key missing")
	ErrMutationNoCall     = errors.New("mutation call missing")
)

var (
	ErrStoreTypeUnknown = errors.New("store type unknown")
	ErrStoreClosed      = errors.New("store closed")
	ErrStoreKeyEmpty    = errors.New("store key empty")
)

var (
	ErrBookingNotStarted    = errors.New("booking flow not started")
	ErrBookingFlowComplete  = errors.New("booking flow complete")
	ErrBookingAnswerInvalid = errors.New("booking answer invalid")
	ErrBookingNoSearch      = errors.New("booking step has no search")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrInvalidState   = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
