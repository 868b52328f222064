package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// defaultHeaders are sent with every request unless overridden.
var defaultHeaders = map[string]string{
	"Content-Type": "application/json",
	"Accept":       "application/json",
}

// Doer is the request surface resource clients depend on. *Executor implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error)
}

// Response is a successful (2xx or 3xx) response whose body has been read in full.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. Malformed bodies fail with an
// APIError coded DECODE_ERROR that carries the response status.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return newAPIErrorWithCause(
			fmt.Sprintf("Decode error: %v", err),
			r.StatusCode,
			CodeDecodeError,
			err,
		)
	}
	return nil
}

// attempt describes one physical request. It is built once per call and
// replayed for every retry.
type attempt struct {
	method  string
	url     string
	body    []byte
	header  http.Header
	timeout time.Duration
}

// Executor issues JSON requests against a base URL with per-attempt timeouts and
// linear-backoff retries. Every error it returns is an *APIError.
//
// Executors are immutable and safe for concurrent use. WithDefaultHeader and
// WithAuthToken derive new executors that share the transport, limiter,
// circuit breaker and statistics of the receiver.
type Executor struct {
	config  Config
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *CircuitBreakerWrapper[*attempt, *Response]
	retrier *RetryWrapper[*attempt, *Response]
	metrics *metrics
}

// New creates an Executor from DefaultConfig and the given options.
//
// Example:
//
//	exec, err := apiclient.New(
//	    apiclient.WithBaseURL("https://api.example.com"),
//	    apiclient.WithTimeout(5*time.Second),
//	    apiclient.WithRetries(2),
//	)
func New(opts ...Option) (*Executor, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", cfg.Retries)
	}
	if cfg.BackoffBase < 0 {
		return nil, fmt.Errorf("backoff base must not be negative, got %s", cfg.BackoffBase)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Headers != nil {
		cfg.Headers = canonicalHeaders(cfg.Headers, 0)
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	e := &Executor{
		config:  cfg,
		headers: mergeHeaders(defaultHeaders, cfg.Headers),
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
		metrics: m,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	var inner ResilientClient[*attempt, *Response] = ClientFunc[*attempt, *Response](e.roundTrip)
	if cfg.CircuitBreaker != nil {
		cbConfig := *cfg.CircuitBreaker
		if cbConfig.Logger == nil {
			cbConfig.Logger = cfg.Logger
		}
		e.breaker = newCircuitBreakerWrapper(inner, &cbConfig)
		inner = e.breaker
	}

	e.retrier = NewRetryWrapper(
		inner,
		WithMaxAttempts(cfg.Retries+1),
		WithLinearBackoff(cfg.BackoffBase),
		WithErrorClassifier(NewTransportClassifier()),
		WithRetryLogger(cfg.Logger),
	)

	return e, nil
}

// WithDefaultHeader returns a new Executor that also sends key: value on every
// request, replacing any default with the same name in any letter case.
// The receiver is unchanged.
func (e *Executor) WithDefaultHeader(key, value string) *Executor {
	clone := *e
	clone.config.Headers = canonicalHeaders(e.config.Headers, 1)
	clone.config.Headers[http.CanonicalHeaderKey(key)] = value
	clone.headers = mergeHeaders(defaultHeaders, clone.config.Headers)
	return &clone
}

// WithAuthToken returns a new Executor that sends "Authorization: Bearer <token>".
func (e *Executor) WithAuthToken(token string) *Executor {
	return e.WithDefaultHeader("Authorization", "Bearer "+token)
}

// Config returns a copy of the executor configuration.
func (e *Executor) Config() Config {
	cfg := e.config
	cfg.Headers = maps.Clone(e.config.Headers)
	return cfg
}

// URL returns the fully qualified URL for path: base URL and path concatenated verbatim.
func (e *Executor) URL(path string) string {
	return e.config.BaseURL + path
}

// Get issues a GET request.
func (e *Executor) Get(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return e.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with body encoded as JSON.
func (e *Executor) Post(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return e.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with body encoded as JSON.
func (e *Executor) Put(ctx context.Context, path string, body any, opts ...CallOption) (*Response, error) {
	return e.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request.
func (e *Executor) Delete(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return e.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do issues method against URL(path). A non-nil body is encoded as JSON once and
// replayed on each attempt.
//
// Transport failures and attempt timeouts are retried up to the retry budget,
// waiting BackoffBase*(k+1) after failed attempt k. A response outside 2xx/3xx
// is returned immediately as an APIError coded with its status.
func (e *Executor) Do(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error) {
	var call callConfig
	for _, opt := range opts {
		opt(&call)
	}

	timeout := e.config.Timeout
	if call.timeout != nil && *call.timeout > 0 {
		timeout = *call.timeout
	}
	retries := e.config.Retries
	if call.retries != nil && *call.retries >= 0 {
		retries = *call.retries
	}

	a := &attempt{
		method:  method,
		url:     e.URL(path),
		header:  e.buildHeader(call.headers),
		timeout: timeout,
	}

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, e.fail(method, newAPIErrorWithCause("Invalid request body: "+err.Error(), 0, CodeRequestError, err))
		}
		a.body = payload
	}

	if _, err := http.NewRequestWithContext(ctx, method, a.url, nil); err != nil {
		return nil, e.fail(method, newAPIErrorWithCause("Invalid request: "+err.Error(), 0, CodeRequestError, err))
	}

	e.logger.Debug("executing request",
		"method", method,
		"url", a.url,
		"timeout", timeout,
		"retries", retries)

	resp, err := e.retrier.ExecuteAttempts(ctx, a, retries+1)
	if err != nil {
		return nil, e.fail(method, classify(a, err))
	}

	e.metrics.request(method, "ok")
	return resp, nil
}

// Health reports retry statistics and circuit breaker state.
func (e *Executor) Health() Health {
	h := Health{
		Healthy: true,
		BaseURL: e.config.BaseURL,
		Retry:   e.retrier.GetRetryStats(),
	}
	if e.breaker != nil {
		circuit := e.breaker.GetHealth()
		h.Circuit = &circuit
		h.Healthy = circuit.Healthy
	}
	return h
}

func (e *Executor) fail(method string, apiErr *APIError) *APIError {
	e.metrics.request(method, apiErr.Code())
	e.logger.Debug("request failed",
		"method", method,
		"status", apiErr.StatusCode(),
		"code", apiErr.Code(),
		"error", apiErr.Message())
	return apiErr
}

// buildHeader merges executor defaults with per-call overrides; overrides win.
func (e *Executor) buildHeader(overrides map[string]string) http.Header {
	header := make(http.Header, len(e.headers)+len(overrides)+1)
	for k, v := range e.headers {
		header.Set(k, v)
	}
	for k, v := range overrides {
		header.Set(k, v)
	}
	if name := e.config.RequestIDHeader; name != "" && header.Get(name) == "" {
		header.Set(name, uuid.NewString())
	}
	return header
}

// roundTrip performs a single attempt bounded by a.timeout.
func (e *Executor) roundTrip(ctx context.Context, a *attempt) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			// No request was sent: the caller is gone or its deadline
			// cannot fit the wait.
			e.metrics.attempt(a.method, outcomeCanceled)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newAPIErrorWithCause("Request canceled: rate limit wait: "+err.Error(), 0, CodeCanceled, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var body io.Reader
	if a.body != nil {
		body = bytes.NewReader(a.body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, a.method, a.url, body)
	if err != nil {
		return nil, newAPIErrorWithCause("Invalid request: "+err.Error(), 0, CodeRequestError, err)
	}
	req.Header = a.header.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.transportFailure(ctx, attemptCtx, a, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.transportFailure(ctx, attemptCtx, a, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		e.metrics.attempt(a.method, outcomeHTTPError)
		return nil, httpStatusError(resp.StatusCode, errorMessage(resp.StatusCode, payload))
	}

	e.metrics.attempt(a.method, outcomeSuccess)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// transportFailure distinguishes the caller giving up, the attempt deadline
// expiring, and everything else.
func (e *Executor) transportFailure(ctx, attemptCtx context.Context, a *attempt, err error) error {
	switch {
	case ctx.Err() != nil:
		e.metrics.attempt(a.method, outcomeCanceled)
		return ctx.Err()
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		e.metrics.attempt(a.method, outcomeTimeout)
		return newAttemptTimeoutError(a.method+" "+a.url, a.timeout)
	default:
		e.metrics.attempt(a.method, outcomeNetwork)
		return err
	}
}

// classify turns the error that ended the retry loop into an APIError.
func classify(a *attempt, err error) *APIError {
	var timeoutErr *attemptTimeoutError
	if errors.As(err, &timeoutErr) {
		return newAPIErrorWithCause(
			fmt.Sprintf("Request timeout after %dms", a.timeout.Milliseconds()),
			http.StatusRequestTimeout,
			CodeTimeout,
			err,
		)
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAPIErrorWithCause("Request canceled: "+err.Error(), 0, CodeCanceled, err)
	}
	return newAPIErrorWithCause("Network error: "+err.Error(), 0, CodeNetworkError, err)
}

// errorMessage picks the message for a non-ok response: the JSON "message"
// field, else the raw body when it is not JSON, else "HTTP {status}: {text}".
func errorMessage(status int, body []byte) string {
	fallback := fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))

	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
		return fallback
	}
	if len(body) > 0 {
		return string(body)
	}
	return fallback
}

// mergeHeaders layers overrides on base by canonical header name.
func mergeHeaders(base, overrides map[string]string) map[string]string {
	merged := canonicalHeaders(base, len(overrides))
	for k, v := range overrides {
		merged[http.CanonicalHeaderKey(k)] = v
	}
	return merged
}

// GetJSON issues a GET through d and decodes the body into T.
func GetJSON[T any](ctx context.Context, d Doer, path string, opts ...CallOption) (T, error) {
	return DoJSON[T](ctx, d, http.MethodGet, path, nil, opts...)
}

// PostJSON issues a POST through d and decodes the body into T.
func PostJSON[T any](ctx context.Context, d Doer, path string, body any, opts ...CallOption) (T, error) {
	return DoJSON[T](ctx, d, http.MethodPost, path, body, opts...)
}

// PutJSON issues a PUT through d and decodes the body into T.
func PutJSON[T any](ctx context.Context, d Doer, path string, body any, opts ...CallOption) (T, error) {
	return DoJSON[T](ctx, d, http.MethodPut, path, body, opts...)
}

// DeleteJSON issues a DELETE through d and decodes the body into T.
func DeleteJSON[T any](ctx context.Context, d Doer, path string, opts ...CallOption) (T, error) {
	return DoJSON[T](ctx, d, http.MethodDelete, path, nil, opts...)
}

// DoJSON issues method through d and decodes the body into T.
func DoJSON[T any](ctx context.Context, d Doer, method, path string, body any, opts ...CallOption) (T, error) {
	var out T
	resp, err := d.Do(ctx, method, path, body, opts...)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
