package apiclient

// Health is a point-in-time report for an Executor, suitable for a health endpoint.
type Health struct {
	// Healthy is false only when the circuit breaker is open.
	Healthy bool `json:"healthy"`

	// BaseURL is the endpoint prefix the executor targets.
	BaseURL string `json:"base_url"`

	// Retry summarizes attempts across all calls.
	Retry RetryStats `json:"retry"`

	// Circuit is nil when no circuit breaker is configured.
	Circuit *CircuitHealth `json:"circuit,omitempty"`
}

// CircuitHealth represents the health status of a circuit breaker.
type CircuitHealth struct {
	// Healthy is true for closed and half-open states, false for open.
	Healthy bool `json:"healthy"`

	// State is "closed", "half-open", "open" or "unknown".
	State string `json:"state"`

	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}
