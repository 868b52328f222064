package apiclient

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerWrapper wraps a ResilientClient with circuit breaker functionality.
// Rejected calls fail with an APIError coded CIRCUIT_OPEN (status 503) so callers
// still see a single error shape.
type CircuitBreakerWrapper[Req, Resp any] struct {
	client     ResilientClient[Req, Resp]
	cb         *gobreaker.CircuitBreaker[Resp]
	name       string
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

// NewCircuitBreakerWrapper creates a new circuit breaker wrapper around a ResilientClient.
//
// Example:
//
//	wrapper := apiclient.NewCircuitBreakerWrapper(
//	    client,
//	    apiclient.WithMaxRequests(5),
//	    apiclient.WithOpenTimeout(60*time.Second),
//	)
func NewCircuitBreakerWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	opts ...CircuitBreakerOption,
) *CircuitBreakerWrapper[Req, Resp] {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}
	return newCircuitBreakerWrapper(client, config)
}

func newCircuitBreakerWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	config *CircuitBreakerConfig,
) *CircuitBreakerWrapper[Req, Resp] {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}
	if config.Name == "" {
		config.Name = "apiclient"
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = DefaultCircuitBreakerConfig().ReadyToTrip
	}

	classifier := config.ErrorClassifier

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(convertCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier.ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerWrapper[Req, Resp]{
		client:     client,
		cb:         gobreaker.NewCircuitBreaker[Resp](settings),
		name:       config.Name,
		logger:     config.Logger,
		classifier: classifier,
	}
}

// Execute executes the request through the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	resp, err := w.cb.Execute(func() (Resp, error) {
		return w.client.Execute(ctx, req)
	})
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		counts := w.cb.Counts()
		w.logger.Warn("circuit breaker is open, request rejected",
			"name", w.name,
			"counts", counts)
		return zero, w.rejection("request rejected", "open", err, counts)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		counts := w.cb.Counts()
		w.logger.Debug("circuit breaker in half-open state, too many requests",
			"name", w.name)
		return zero, w.rejection("too many requests in half-open state", "half-open", err, counts)
	default:
		w.logger.Debug("request failed through circuit breaker",
			"error", err,
			"should_trip", w.classifier.ShouldTripCircuit(err))
	}
	return zero, err
}

func (w *CircuitBreakerWrapper[Req, Resp]) rejection(msg, state string, err error, counts gobreaker.Counts) *APIError {
	w.logger.Debug("circuit breaker rejected request",
		"name", w.name,
		"state", state,
		"requests", counts.Requests,
		"consecutive_failures", counts.ConsecutiveFailures)

	cause := jperrors.NewCircuitBreakerError(
		msg,
		"execute",
		state,
		jperrors.WithCause(err),
		jperrors.WithComponent(w.name),
	)
	return newAPIErrorWithCause("Circuit breaker "+state+": "+msg, 503, CodeCircuitOpen, cause)
}

// State returns the current state of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) State() CircuitBreakerState {
	return convertGobreakerState(w.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) Counts() CircuitBreakerCounts {
	return convertCounts(w.cb.Counts())
}

// GetHealth returns the health status of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) GetHealth() CircuitHealth {
	state := w.State()
	counts := w.Counts()

	return CircuitHealth{
		// Half-open is degraded but operational.
		Healthy:              state != StateOpen,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

func convertCounts(counts gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
