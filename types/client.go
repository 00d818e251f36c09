package types

import (
	"context"
	"encoding/json"
	"time"
)

// APIClient is the REST transport. Call decodes the backend's
// {status, data|message} envelope and unmarshals data into out when
// out is non-nil.
type APIClient interface {
	Call(ctx context.Context, method, path string, body interface{}, out interface{}, opts *CallOptions) error
	SetOnOutage(fn func())
	Close()
}

type CallOptions struct {
	Timeout time.Duration
	Retry   int
	Headers map[string]string
}

// Envelope is the backend response wrapper. Status is "success" for
// accepted requests; anything else carries a human-readable Message.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (e *Envelope) OK() bool {
	return e.Status == "success"
}
