package types

import (
	"encoding/json"
	"time"
)

// Event is a named push payload received over the realtime channel.
// Events are consumed once; they are never persisted.
type Event struct {
	Name       string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"-"`
}

// EventHandler translates one event into zero or more cache mutations.
type EventHandler func(event *Event) error

// EventBridge keeps the cache eventually consistent with server-side
// changes the local user didn't cause. Consumers share one connection:
// Acquire attaches listeners on first use, Release by the last consumer
// tears the connection down.
type EventBridge interface {
	Acquire() error
	Release() error
	On(event string, handler EventHandler) error
	Consumers() int
	IsConnected() bool
	ResyncC() <-chan struct{}
}

// Alerter receives presentation side effects for select events. It is
// never correctness-critical; implementations must not block.
type Alerter interface {
	Alert(title, body string)
	Chime()
}

// NetworkMonitor reports whether the link is slow or metered, in which
// case optional work (late prefetch stages) is skipped.
type NetworkMonitor interface {
	Constrained() bool
}
