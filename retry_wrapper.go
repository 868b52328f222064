package apiclient

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxAttemptsCap bounds attempt budgets before they are converted to uint64.
const maxAttemptsCap = 1000

// RetryWrapper wraps a ResilientClient with configurable retry logic.
type RetryWrapper[Req, Resp any] struct {
	client     ResilientClient[Req, Resp]
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryWrapper creates a new retry wrapper around a ResilientClient.
//
// Example:
//
//	wrapper := apiclient.NewRetryWrapper(
//	    client,
//	    apiclient.WithMaxAttempts(4),
//	    apiclient.WithLinearBackoff(time.Second),
//	)
func NewRetryWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	opts ...RetryOption,
) *RetryWrapper[Req, Resp] {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	return &RetryWrapper[Req, Resp]{
		client:     client,
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		stats:      &retryStats{},
	}
}

// Execute performs the request with up to MaxAttempts attempts.
func (w *RetryWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return w.ExecuteAttempts(ctx, req, w.config.MaxAttempts)
}

// ExecuteAttempts performs the request with an attempt budget that overrides
// MaxAttempts for this call only.
func (w *RetryWrapper[Req, Resp]) ExecuteAttempts(ctx context.Context, req Req, maxAttempts int) (Resp, error) {
	var zero Resp

	if maxAttempts <= 0 {
		return zero, errors.New("max attempts must be positive")
	}

	select {
	case <-ctx.Done():
		w.logger.Warn("context already done before request (expected condition)",
			"error", ctx.Err())
		return zero, ctx.Err()
	default:
	}

	var response Resp
	var attempts int

	backoff := w.backoffFor(maxAttempts)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		w.stats.mu.Lock()
		w.stats.totalAttempts++
		if attempts > 1 {
			w.stats.totalRetries++
		}
		w.stats.lastAttemptTime = time.Now()
		w.stats.mu.Unlock()

		select {
		case <-ctx.Done():
			w.logger.Warn("context done before retry attempt (expected condition)",
				"attempt", attempts,
				"error", ctx.Err())
			return ctx.Err()
		default:
		}

		resp, err := w.client.Execute(ctx, req)
		if err == nil {
			if attempts > 1 {
				w.logger.Info("request succeeded after retry",
					"attempts", attempts)
			}
			response = resp
			return nil
		}

		if !w.classifier.IsRetryable(err) {
			w.logger.Debug("non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		if attempts < maxAttempts {
			w.logger.Debug("retrying request after delay",
				"attempt", attempts,
				"error", err)
		}

		return retry.RetryableError(err)
	})
	if err != nil {
		w.logger.Warn("request failed after retries",
			"attempts", attempts,
			"error", err)
		w.stats.mu.Lock()
		w.stats.totalFailures++
		w.stats.lastError = err
		w.stats.mu.Unlock()
		return zero, err
	}

	w.stats.mu.Lock()
	w.stats.totalSuccesses++
	w.stats.mu.Unlock()

	return response, nil
}

// backoffFor builds a fresh backoff for one call.
// retry.Do counts the initial attempt, so maxAttempts-1 is passed to WithMaxRetries.
func (w *RetryWrapper[Req, Resp]) backoffFor(maxAttempts int) retry.Backoff {
	if maxAttempts > maxAttemptsCap {
		maxAttempts = maxAttemptsCap
	}
	maxRetries := uint64(maxAttempts - 1) // #nosec G115 - bounds checked above

	switch w.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
			return w.config.InitialDelay + jitter(w.config.InitialDelay/10), false
		}))

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(maxRetries,
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					retry.NewFibonacci(w.config.InitialDelay),
				),
			),
		)

	case RetryStrategyExponential:
		return retry.WithMaxRetries(maxRetries,
			retry.WithCappedDuration(
				w.config.MaxDelay,
				retry.WithJitter(
					w.config.InitialDelay/10,
					w.newConfigurableExponential(),
				),
			),
		)

	default:
		return retry.WithMaxRetries(maxRetries, NewLinearBackoff(w.config.InitialDelay))
	}
}

// jitter returns a random duration in [0, limit) using crypto/rand.
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// LinearDelay returns the wait after the attempt with 0-based index attempt:
// step*(attempt+1).
func LinearDelay(step time.Duration, attempt int) time.Duration {
	return step * time.Duration(attempt+1)
}

// NewLinearBackoff returns a go-retry backoff yielding step, 2*step, 3*step, ...
// It never stops on its own; bound it with retry.WithMaxRetries.
func NewLinearBackoff(step time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := LinearDelay(step, attempt)
		attempt++
		return delay, false
	})
}

// newConfigurableExponential creates an exponential backoff using the configured multiplier.
func (w *RetryWrapper[Req, Resp]) newConfigurableExponential() retry.Backoff {
	multiplier := w.config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	if multiplier == 2.0 {
		return retry.NewExponential(w.config.InitialDelay)
	}

	attempt := uint64(0)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := float64(w.config.InitialDelay)
		for i := uint64(0); i < attempt; i++ {
			delay *= multiplier
			if delay > float64(1<<63-1) {
				attempt++
				return time.Duration(1<<63 - 1), false
			}
		}
		attempt++
		return time.Duration(delay), false
	})
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64 `json:"total_attempts"`

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64 `json:"total_retries"`

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64 `json:"total_successes"`

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64 `json:"total_failures"`

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time `json:"last_attempt_time"`

	// LastError is the last error encountered (if any)
	LastError error `json:"-"`
}

// GetRetryStats returns a snapshot of the retry statistics.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   w.stats.totalAttempts,
		TotalRetries:    w.stats.totalRetries,
		TotalSuccesses:  w.stats.totalSuccesses,
		TotalFailures:   w.stats.totalFailures,
		LastAttemptTime: w.stats.lastAttemptTime,
		LastError:       w.stats.lastError,
	}
}
