package apiclient

import (
	"log/slog"
	"time"
)

// RetryStrategy defines the backoff strategy for retry operations.
type RetryStrategy string

const (
	// RetryStrategyLinear waits InitialDelay*(n+1) after the n-th failed attempt (0-indexed).
	// No jitter is applied.
	RetryStrategyLinear RetryStrategy = "linear"

	// RetryStrategyExponential uses exponential backoff with jitter.
	RetryStrategyExponential RetryStrategy = "exponential"

	// RetryStrategyConstant uses a constant delay between retries with jitter.
	RetryStrategyConstant RetryStrategy = "constant"

	// RetryStrategyFibonacci uses fibonacci backoff with jitter.
	RetryStrategyFibonacci RetryStrategy = "fibonacci"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// ErrorClassifier determines which errors should trigger retries.
	// Default: TransportClassifier
	ErrorClassifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Strategy defines the backoff strategy.
	// Default: RetryStrategyLinear
	Strategy RetryStrategy

	// InitialDelay is the delay before the first retry.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay caps the delay for exponential and fibonacci strategies.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential strategy.
	// Default: 2.0 (doubling)
	Multiplier float64

	// MaxAttempts is the maximum number of attempts (including the initial request).
	// Default: 4
	MaxAttempts int
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts, including the first.
// The Executor derives this from Retries: Retries+1.
//
// Example:
//
//	apiclient.WithMaxAttempts(4) // one call plus three retries
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithLinearBackoff configures linear backoff without jitter.
//
// Example:
//
//	apiclient.WithLinearBackoff(time.Second)
//	// Delays: 1s, 2s, 3s, 4s
func WithLinearBackoff(step time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyLinear
		c.InitialDelay = step
	}
}

// WithExponentialBackoff configures exponential backoff with jitter.
//
// Example:
//
//	apiclient.WithExponentialBackoff(time.Second, 30*time.Second)
//	// With default multiplier 2.0: ~1s, ~2s, ~4s, ~8s, ~16s, 30s (capped)
func WithExponentialBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyExponential
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithMultiplier sets the backoff multiplier for exponential strategy.
// It has no effect on the linear, constant or fibonacci strategies.
//
// Example:
//
//	apiclient.WithMultiplier(3)
//	// With a 100ms initial delay: ~100ms, ~300ms, ~900ms
func WithMultiplier(multiplier float64) RetryOption {
	return func(c *RetryConfig) {
		c.Multiplier = multiplier
	}
}

// WithConstantBackoff configures constant delay between retries with jitter.
//
// Example:
//
//	apiclient.WithConstantBackoff(500 * time.Millisecond)
//	// Delays: ~500ms every time, up to 10% jitter
func WithConstantBackoff(delay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyConstant
		c.InitialDelay = delay
		c.MaxDelay = delay
	}
}

// WithFibonacciBackoff configures fibonacci backoff with jitter.
//
// Example:
//
//	apiclient.WithFibonacciBackoff(200*time.Millisecond, 5*time.Second)
//	// Delays: ~200ms, ~400ms, ~600ms, ~1s, ~1.6s, ... 5s (capped)
func WithFibonacciBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyFibonacci
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithErrorClassifier sets a custom error classifier for retry decisions.
//
// Example:
//
//	// Retry 429 and 5xx as well as transport failures.
//	apiclient.WithErrorClassifier(apiclient.NewHTTPStatusClassifier())
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	apiclient.WithRetryLogger(logger)
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration matching the Executor defaults:
// three retries after the first attempt with a 1s linear step.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     DefaultRetries + 1,
		Strategy:        RetryStrategyLinear,
		InitialDelay:    DefaultBackoffBase,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and state change callbacks.
	// Default: "apiclient"
	Name string

	// ReadyToTrip is called with a copy of counts whenever a request fails in the closed state.
	// Default: trips after 3 requests with 60% failure rate
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// ErrorClassifier determines which errors should trip the circuit breaker.
	// Default: TransportClassifier
	ErrorClassifier CircuitBreakerErrorClassifier

	// OnStateChange is called whenever the circuit breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Interval is the cyclic period of the closed state for the circuit breaker
	// to clear the internal counts. If 0, never clears.
	// Default: 10 seconds
	Interval time.Duration

	// OpenTimeout is the period of the open state, after which the state becomes half-open.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is in the half-open state.
	// Default: 3
	MaxRequests uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts holds the internal counts of the circuit breaker.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithBreakerName sets the breaker name reported in logs and to OnStateChange.
//
// Example:
//
//	apiclient.WithBreakerName("weather-forecast")
func WithBreakerName(name string) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Name = name
	}
}

// WithMaxRequests sets the maximum number of requests in half-open state.
// That many consecutive successes close the circuit again.
//
// Example:
//
//	apiclient.WithMaxRequests(1) // a single probe decides
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in closed state.
// Zero keeps counting until the circuit opens.
//
// Example:
//
//	apiclient.WithInterval(time.Minute) // judge failures per minute
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing.
//
// Example:
//
//	apiclient.WithOpenTimeout(15 * time.Second)
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OpenTimeout = timeout
	}
}

// WithReadyToTrip sets a custom function to determine when to trip the circuit.
//
// Example:
//
//	apiclient.WithReadyToTrip(func(counts apiclient.CircuitBreakerCounts) bool {
//	    return counts.ConsecutiveFailures >= 5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithCircuitBreakerErrorClassifier sets a custom error classifier for circuit breaker decisions.
// Errors it does not trip on count as successes.
//
// Example:
//
//	// Also trip on 401 and 403 from a misconfigured token.
//	apiclient.WithCircuitBreakerErrorClassifier(apiclient.NewHTTPStatusClassifier())
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
//
// Example:
//
//	apiclient.WithStateChangeHandler(func(name string, from, to apiclient.CircuitBreakerState) {
//	    logger.Warn("forecast backend circuit", "from", from, "to", to)
//	})
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for circuit breaker operations.
//
// Example:
//
//	apiclient.WithCircuitBreakerLogger(logger.With("component", "breaker"))
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns circuit breaker configuration with sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        "apiclient",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		OpenTimeout: 30 * time.Second,
		ReadyToTrip: func(counts CircuitBreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:          slog.Default(),
	}
}
