package client

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

// HTTPClient is the REST transport. Every mutating endpoint answers
// with the {status, data|message} envelope; Call decodes it and
// branches on status == "success".
type HTTPClient struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	client         *fasthttp.Client
	baseURL        string
	config         *types.APIConfig
	store          types.LocalStore
	circuitBreaker *CircuitBreaker
	outage         *OutageTracker
	state          atomic.Value
	requestTimeout time.Duration
}

func NewHTTPClient(ctx context.Context, logger types.Logger, config *types.APIConfig, store types.LocalStore) *HTTPClient {
	clientCtx, cancel := context.WithCancel(ctx)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	client := &HTTPClient{
		ctx:            clientCtx,
		cancel:         cancel,
		logger:         logger,
		client:         httpClient,
		baseURL:        config.BaseURL,
		config:         config,
		store:          store,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker, logger),
		outage:         NewOutageTracker(config.OutageThreshold, logger),
		requestTimeout: timeout,
	}

	client.state.Store(StateRunning)

	return client
}

func (c *HTTPClient) SetOnOutage(fn func()) {
	c.outage.SetOnOutage(fn)
}

func (c *HTTPClient) Outage() *OutageTracker {
	return c.outage
}

func (c *HTTPClient) Call(ctx context.Context, method, path string, body interface{}, out interface{}, opts *types.CallOptions) error {
	if !c.IsRunning() {
		return types.ErrClientNotRunning
	}

	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = utils.Marshal(body)
		if err != nil {
			return types.WrapError(err, "failed to marshal request body")
		}
	}

	timeout := c.requestTimeout
	retries := c.config.Retries

	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Retry > 0 {
			retries = opts.Retry
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type callResult struct {
		body       []byte
		statusCode int
		err        error
	}

	// The goroutine owns the pooled request/response pair: an abandoned
	// call (timeout, shutdown) must not release them back to fasthttp
	// while the transport is still writing into them. decodeBody copies
	// the payload, so the result never aliases the pooled response.
	resultCh := make(chan callResult, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(c.baseURL + path)
		req.Header.SetMethod(method)
		req.Header.Set(fasthttp.HeaderAcceptEncoding, "br, gzip")

		if c.store != nil {
			if token, ok := c.store.Get(types.StoreKeySessionToken); ok && token != "" {
				req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
			}
		}

		if jsonData != nil {
			req.SetBody(jsonData)
			req.Header.SetContentType("application/json")
		}

		if opts != nil {
			for key, value := range opts.Headers {
				req.Header.Set(key, value)
			}
		}

		responseBody, statusCode, err := c.executeWithRetries(req, resp, retries, timeout)
		resultCh <- callResult{body: responseBody, statusCode: statusCode, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return result.err
		}
		return decodeEnvelope(result.body, result.statusCode, out)
	case <-callCtx.Done():
		return types.Errorf(types.ErrClientRequestFailed, "call timeout: %s %s", method, path)
	case <-c.ctx.Done():
		return types.Errorf(types.ErrClientRequestFailed, "client shutting down: %s %s", method, path)
	}
}

func (c *HTTPClient) Close() {
	if !c.transitionClientState(StateRunning, StateStopping) {
		return
	}

	c.state.Store(StateStopped)
	c.cancel()

	c.logger.Debug("HTTP client closed")
}

func (c *HTTPClient) IsRunning() bool {
	return c.getClientState() == StateRunning
}

func (c *HTTPClient) getClientState() State {
	return c.state.Load().(State)
}

func (c *HTTPClient) transitionClientState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

func (c *HTTPClient) executeWithRetries(req *fasthttp.Request, resp *fasthttp.Response, maxRetries int, timeout time.Duration) ([]byte, int, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !c.IsRunning() {
			return nil, 0, types.ErrClientNotRunning
		}

		if !c.circuitBreaker.CanExecute() {
			return nil, 0, types.ErrCircuitBreakerOpen
		}

		err := c.client.DoTimeout(req, resp, timeout)
		statusCode := resp.StatusCode()

		if err != nil {
			// Transport-level failure: feeds the outage counter.
			c.outage.RecordFailure()
		} else {
			c.outage.RecordSuccess()
		}

		if IsSuccessfulResponse(statusCode, err) {
			c.circuitBreaker.RecordSuccess()

			responseBody, decodeErr := decodeBody(resp)
			if decodeErr != nil {
				return nil, statusCode, types.WrapError(decodeErr, "failed to decode response body")
			}

			return responseBody, statusCode, nil
		}

		if IsCircuitBreakerFailure(statusCode, err) {
			c.circuitBreaker.RecordFailure()
		}

		lastErr = err
		if err == nil {
			lastErr = types.Errorf(types.ErrClientResponseInvalid, "HTTP %d", statusCode)
		}

		if attempt < maxRetries {
			if statusCode >= 400 && statusCode < 500 &&
				statusCode != 429 && statusCode != 408 {
				c.logger.Debug("Not retrying client error",
					zap.Int("status_code", statusCode))
				break
			}

			backoff := time.Duration(attempt+1) * time.Second

			select {
			case <-time.After(backoff):
				c.logger.Debug("Retrying request",
					zap.Duration("backoff", backoff),
					zap.Error(lastErr))
			case <-c.ctx.Done():
				return nil, 0, types.Errorf(types.ErrClientRequestFailed, "client shutting down during retry")
			}
		}
	}

	return nil, 0, types.Errorf(types.ErrClientRequestFailed, "request failed: %v", lastErr)
}

func decodeBody(resp *fasthttp.Response) ([]byte, error) {
	encoding := utils.BytesToString(resp.Header.Peek(fasthttp.HeaderContentEncoding))

	switch encoding {
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(resp.Body())))
	case "gzip":
		return resp.BodyGunzip()
	default:
		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, nil
	}
}

func decodeEnvelope(body []byte, statusCode int, out interface{}) error {
	var envelope types.Envelope
	if err := utils.Unmarshal(body, &envelope); err != nil {
		return types.Errorf(types.ErrClientResponseInvalid, "HTTP %d: malformed envelope", statusCode)
	}

	if !envelope.OK() {
		message := envelope.Message
		if message == "" {
			message = "something went wrong, please try again"
		}
		return types.Errorf(types.ErrServerEnvelope, "%s", message)
	}

	if out == nil || envelope.Data == nil {
		return nil
	}

	if err := utils.UnmarshalAny(envelope.Data, out); err != nil {
		return types.WrapError(err, "failed to unmarshal envelope data")
	}

	return nil
}
