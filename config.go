package apiclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Defaults applied by DefaultConfig.
const (
	DefaultBaseURL     = "https://localhost:7192"
	DefaultTimeout     = 10 * time.Second
	DefaultRetries     = 3
	DefaultBackoffBase = time.Second
)

// Environment variables read by ConfigFromEnv.
const (
	EnvBaseURL   = "API_BASE_URL"
	EnvTimeoutMS = "API_TIMEOUT_MS"
	EnvRetries   = "API_RETRIES"
)

// Config is the executor configuration. It is copied when an Executor is built
// and never mutated afterwards.
type Config struct {
	// BaseURL is prepended verbatim to every request path.
	// Default: DefaultBaseURL
	BaseURL string

	// Headers are sent with every request. They override the JSON defaults and
	// are overridden by per-call headers.
	Headers map[string]string

	// Timeout bounds each attempt, not the whole call.
	// Default: 10 seconds
	Timeout time.Duration

	// Retries is the number of extra attempts after the first.
	// Default: 3
	Retries int

	// BackoffBase is the linear backoff step: the wait after attempt k (0-indexed) is BackoffBase*(k+1).
	// Default: 1 second
	BackoffBase time.Duration

	// RequestIDHeader, when set, carries a fresh UUID per call.
	RequestIDHeader string

	// RateLimit gates every attempt when positive. RateBurst defaults to 1.
	RateLimit rate.Limit
	RateBurst int

	// CircuitBreaker, when non-nil, wraps every attempt in a circuit breaker.
	CircuitBreaker *CircuitBreakerConfig

	// Registerer receives the executor's prometheus collectors when non-nil.
	Registerer prometheus.Registerer

	// HTTPClient performs the attempts.
	// Default: a client with no overall timeout; attempts are bounded by Timeout.
	HTTPClient *http.Client

	// Logger for executor operations.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
		BackoffBase: DefaultBackoffBase,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by API_BASE_URL, API_TIMEOUT_MS
// and API_RETRIES when they are set and non-empty.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}

	if v := os.Getenv(EnvTimeoutMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a positive integer", EnvTimeoutMS, v)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv(EnvRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a non-negative integer", EnvRetries, v)
		}
		cfg.Retries = n
	}

	return cfg, nil
}

// Option configures an Executor.
type Option func(*Config)

// WithConfig replaces the whole configuration. Later options still apply on top.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetries sets the number of extra attempts after the first.
func WithRetries(retries int) Option {
	return func(c *Config) {
		c.Retries = retries
	}
}

// WithBackoffBase sets the linear backoff step.
func WithBackoffBase(step time.Duration) Option {
	return func(c *Config) {
		c.BackoffBase = step
	}
}

// WithHeader adds an executor-wide default header. Names are case-insensitive;
// a later value replaces an earlier one whatever its spelling.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		headers := canonicalHeaders(c.Headers, 1)
		headers[http.CanonicalHeaderKey(key)] = value
		c.Headers = headers
	}
}

// WithRequestIDHeader stamps each call with a UUID under the given header name.
func WithRequestIDHeader(name string) Option {
	return func(c *Config) {
		c.RequestIDHeader = name
	}
}

// WithRateLimit gates attempts to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = rate.Limit(rps)
		c.RateBurst = burst
	}
}

// WithCircuitBreaker wraps every attempt in a circuit breaker.
func WithCircuitBreaker(opts ...CircuitBreakerOption) Option {
	return func(c *Config) {
		cbConfig := DefaultCircuitBreakerConfig()
		for _, opt := range opts {
			opt(cbConfig)
		}
		c.CircuitBreaker = cbConfig
	}
}

// WithMetrics registers the executor's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// CallOption overrides executor defaults for a single call.
type CallOption func(*callConfig)

type callConfig struct {
	headers map[string]string
	timeout *time.Duration
	retries *int
}

// WithRequestHeader sets a header for one call, overriding any default.
func WithRequestHeader(key, value string) CallOption {
	return func(c *callConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[http.CanonicalHeaderKey(key)] = value
	}
}

// WithRequestTimeout overrides the per-attempt timeout for one call.
func WithRequestTimeout(timeout time.Duration) CallOption {
	return func(c *callConfig) {
		c.timeout = &timeout
	}
}

// WithRequestRetries overrides the retry count for one call. Zero is honored and
// makes exactly one attempt; it does not fall back to Config.Retries. Negative
// values are ignored.
func WithRequestRetries(retries int) CallOption {
	return func(c *callConfig) {
		c.retries = &retries
	}
}

// canonicalHeaders copies headers with canonical names, leaving room for extra entries.
func canonicalHeaders(headers map[string]string, extra int) map[string]string {
	out := make(map[string]string, len(headers)+extra)
	for k, v := range headers {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
